package tenant

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/grid/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/tenancy"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants with their directory bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := tenancy.NewFilter(filterExpr)
		if err != nil {
			return err
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

		tenants, err := store.Tenants.List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tSTATUS\tID\tBINDINGS")
		for _, t := range filter.Apply(tenants) {
			bindings := make([]string, 0, len(t.Bindings))
			for _, b := range t.Bindings {
				if b.IsActive {
					bindings = append(bindings, string(b.ConnectionType)+":"+b.DirectoryID)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Code, t.Name, t.Status, t.ID, strings.Join(bindings, ", "))
		}
		return w.Flush()
	},
}
