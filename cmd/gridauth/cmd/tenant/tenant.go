package tenant

import "github.com/spf13/cobra"

var (
	tenantCode     string
	tenantName     string
	tenantID       string
	connectionType string
	directoryID    string
	filterExpr     string
)

// TenantCmd is the parent command for tenant provisioning
var TenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants and directory bindings",
	Long:  `Commands for creating tenants and binding external directories to them.`,
}

func init() {
	TenantCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&tenantCode, "code", "", "Unique tenant code")
	createCmd.Flags().StringVar(&tenantName, "name", "", "Display name")
	createCmd.Flags().StringVar(&tenantID, "id", "", "Explicit tenant id (UUID); generated when empty")

	TenantCmd.AddCommand(bindCmd)
	bindCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id or code")
	bindCmd.Flags().StringVar(&connectionType, "type", "", "Connection type: enterprise or consumer")
	bindCmd.Flags().StringVar(&directoryID, "directory", "", "Directory id carried by the IdP token (e.g. the tid claim)")

	TenantCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&filterExpr, "filter", "", `Boolean filter, e.g. 'status == "active" and "consumer" in connection_types'`)
}
