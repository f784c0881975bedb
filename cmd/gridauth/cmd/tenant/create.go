package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant and its system roles",
	Long: `Creates a tenant and seeds the system roles every tenant needs:
the super-user role and the default roles assigned on first login.

Example:
  gridauth tenant create --code acme --name "Acme Corp"
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(tenantCode) == "" {
			return fmt.Errorf("--code is required")
		}
		if strings.TrimSpace(tenantName) == "" {
			tenantName = tenantCode
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
		tenant := &models.Tenant{ID: tenantID, Code: tenantCode, Name: tenantName}
		if err := store.Tenants.Create(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		created, err := cmdutil.SeedSystemRoles(ctx, store, tenant.ID, cfg.Roles)
		if err != nil {
			return fmt.Errorf("tenant %s created but seeding roles failed: %w", tenant.Code, err)
		}

		fmt.Println("Tenant created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("ID:    %s\n", tenant.ID)
		fmt.Printf("Code:  %s\n", tenant.Code)
		fmt.Printf("Roles: %s\n", strings.Join(created, ", "))
		fmt.Println("----------------------------------------")
		fmt.Println("Bind a directory with 'gridauth tenant bind' before users can log in.")
		return nil
	},
}
