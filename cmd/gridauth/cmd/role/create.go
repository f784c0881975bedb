package role

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a role in a tenant",
	Long: `Example:
  gridauth role create --tenant acme --code billing --name Billing \
    --permission billing:read --permission ref:0192f0c4-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantInput == "" || roleCode == "" {
			return fmt.Errorf("--tenant and --code are required")
		}
		if roleName == "" {
			roleName = roleCode
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if roleCode == cfg.Roles.SuperUserRole {
			return fmt.Errorf("%s is reserved; it is created with the tenant", roleCode)
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

		role := &models.Role{
			TenantID:    tenant.ID,
			Code:        roleCode,
			Name:        roleName,
			Description: roleDescription,
			Permissions: refs,
		}
		if err := store.Roles.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		fmt.Printf("Created role %s (%s) in tenant %s with %d permission(s)\n", role.Code, role.ID, tenant.Code, len(refs))
		return nil
	},
}
