package role

import "github.com/spf13/cobra"

// CLIAssigner is recorded as assigned_by for assignments made from the CLI.
const CLIAssigner = "gridauth-cli"

var (
	tenantInput      string
	roleCode         string
	roleName         string
	roleDescription  string
	userInput        string
	permissionsInput []string
)

// RoleCmd is the parent command for role operations
var RoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage tenant roles and assignments",
	Long: `Commands for creating roles, granting permissions and assigning roles to users.

Permissions are given as a canonical code (contact:read) or a catalog
reference (ref:<permission-id>).`,
}

func init() {
	RoleCmd.PersistentFlags().StringVar(&tenantInput, "tenant", "", "Tenant id or code")

	RoleCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&roleCode, "code", "", "Role code, unique inside the tenant")
	createCmd.Flags().StringVar(&roleName, "name", "", "Display name")
	createCmd.Flags().StringVar(&roleDescription, "description", "", "Description")
	createCmd.Flags().StringSliceVar(&permissionsInput, "permission", []string{}, "Permission(s) granted by the role")

	RoleCmd.AddCommand(grantCmd)
	grantCmd.Flags().StringVar(&roleCode, "role", "", "Role code")
	grantCmd.Flags().StringSliceVar(&permissionsInput, "permission", []string{}, "Permission(s) to grant")

	RoleCmd.AddCommand(assignCmd)
	assignCmd.Flags().StringVar(&roleCode, "role", "", "Role code")
	assignCmd.Flags().StringVar(&userInput, "user", "", "User id or email")
}
