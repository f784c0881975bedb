package tenant

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Bind an external directory to a tenant",
	Long: `Associates a directory id with a tenant. Logins whose token carries the
directory id resolve to this tenant. A directory can be bound to one tenant only.

Example:
  gridauth tenant bind --tenant acme --type enterprise --directory 72f988bf-86f1-41af-91ab-2d7cd011db47
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantID == "" || directoryID == "" {
			return fmt.Errorf("--tenant and --directory are required")
		}
		ct := models.ConnectionType(connectionType)
		if !ct.Valid() {
			return fmt.Errorf("--type must be %q or %q", models.ConnectionTypeEnterprise, models.ConnectionTypeConsumer)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		store, err := cmdutil.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		tenant, err := store.ResolveTenant(ctx, tenantID)
		if err != nil {
			return err
		}

		binding := &models.TenantAuthBinding{TenantID: tenant.ID, ConnectionType: ct, DirectoryID: directoryID}
		if err := store.Tenants.AddBinding(ctx, binding); err != nil {
			return fmt.Errorf("failed to bind directory: %w", err)
		}

		fmt.Printf("Bound %s directory %s to tenant %s\n", ct, directoryID, tenant.Code)
		return nil
	},
}
