package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/role"
	"github.com/terraconstructs/grid/cmd/gridauth/cmd/tenant"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
)

var (
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "gridauth",
	Short: "Grid identity and authorization service",
	Long: `gridauth exchanges identity-provider authorization codes for tenant-scoped
session tokens. It reconciles users, resolves tenants from directory bindings
and issues tokens carrying the user's roles and permissions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Optional config file (yaml, json or toml)")
	flags.String("db-url", "", "Database connection URL (env: GRID_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: GRID_SERVER_ADDR)")
	flags.String("environment", "", "Deployment environment; production hides error internals (env: GRID_ENVIRONMENT)")
	flags.Bool("debug", false, "Enable debug logging (env: GRID_DEBUG)")

	// Flags take precedence over GRID_* variables once bound.
	_ = viper.BindPFlag("database_url", flags.Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", flags.Lookup("server-addr"))
	_ = viper.BindPFlag("environment", flags.Lookup("environment"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(tenant.TenantCmd)
	rootCmd.AddCommand(role.RoleCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
