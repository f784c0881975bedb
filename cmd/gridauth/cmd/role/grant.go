package role

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant permissions to a role",
	Long: `Example:
  gridauth role grant --tenant acme --role billing --permission billing:write`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantInput == "" || roleCode == "" {
			return fmt.Errorf("--tenant and --role are required")
		}
		if len(permissionsInput) == 0 {
			return fmt.Errorf("at least one --permission must be specified")
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
		tenant, err := store.ResolveTenant(ctx, tenantInput)
		if err != nil {
			return err
		}
		refs, err := cmdutil.ParsePermissionRefs(ctx, store.Permissions, permissionsInput)
		if err != nil {
			return err
		}
		role, err := store.Roles.GetByCode(ctx, tenant.ID, roleCode)
		if err != nil {
			return fmt.Errorf("failed to load role: %w", err)
		}

		for _, ref := range refs {
			if err := store.Roles.AddPermission(ctx, role.ID, ref); err != nil {
				return fmt.Errorf("failed to grant %s: %w", ref, err)
			}
			fmt.Printf("Granted %s to role %s\n", ref, role.Code)
		}
		return nil
	},
}
