package role

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign a role to a user",
	Long: `Example:
  gridauth role assign --tenant acme --user jane@acme.com --role billing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantInput == "" || roleCode == "" || userInput == "" {
			return fmt.Errorf("--tenant, --user and --role are required")
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

		var user *models.User
		if strings.Contains(userInput, "@") {
			user, err = store.Users.GetByEmail(ctx, tenant.ID, userInput)
		} else {
			user, err = store.Users.GetByID(ctx, userInput)
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.TenantID != tenant.ID {
			return fmt.Errorf("user %s belongs to another tenant", userInput)
		}

		role, err := store.Roles.GetByCode(ctx, tenant.ID, roleCode)
		if err != nil {
			return fmt.Errorf("failed to load role: %w", err)
		}

		assignedBy := CLIAssigner
		added, err := store.Roles.AssignToUser(ctx, &models.UserRole{
			UserID:     user.ID,
			RoleID:     role.ID,
			TenantID:   tenant.ID,
			AssignedBy: &assignedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}

		if !added {
			fmt.Printf("User %s already has role %s\n", user.Email, role.Code)
			return nil
		}
		fmt.Printf("Assigned role %s to %s\n", role.Code, user.Email)
		return nil
	},
}
