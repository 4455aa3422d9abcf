package peptool

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
	"github.com/spf13/cobra"
)

var errUnresolved = errors.New("query frame did not resolve")

type resolveOptions struct {
	*RootOptions
	Frame  string
	Strict bool
}

func newResolveCommand(root *RootOptions) *cobra.Command {
	opts := &resolveOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a query frame into IR",
		Long: `Resolve a query frame (JSON) against the catalog and print the IR.

Examples:
  peptool resolve --frame frame.json
  echo '{"target":"leads"}' | peptool resolve --frame - --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Frame, "frame", "-", "query frame file, - for stdin")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit non-zero when the frame does not resolve")
	return cmd
}

func runResolve(cmd *cobra.Command, opts *resolveOptions) error {
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}
	b, err := readInput(cmd, opts.Frame)
	if err != nil {
		return err
	}
	var frame types.QueryFrame
	if err := json.Unmarshal(b, &frame); err != nil {
		return fmt.Errorf("frame: %w", err)
	}

	q := services.ResolveQuery(frame, cat)
	if err := writeIndented(cmd.OutOrStdout(), q); err != nil {
		return err
	}
	if opts.Strict && !q.Resolved {
		return fmt.Errorf("%w: %s", errUnresolved, q.Reason)
	}
	return nil
}
