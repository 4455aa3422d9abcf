package peptool

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCatalogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the entity catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load the catalog and print its entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			entities := cat.Entities()
			for _, e := range entities {
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.ID, e.Table, strings.Join(e.FieldNames(), ","))
			}
			ops := make([]string, 0)
			for _, op := range cat.Operators() {
				ops = append(ops, string(op))
			}
			fmt.Fprintf(out, "catalog ok: %d entities, operators=%s, max_limit=%d\n", len(entities), strings.Join(ops, ","), cat.MaxLimit())
			return nil
		},
	})
	return cmd
}
