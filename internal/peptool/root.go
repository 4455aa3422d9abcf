// Package peptool is the operator CLI for the PEP: catalog checks, offline
// resolve/replay of query IR, and Postgres schema maintenance.
package peptool

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jacksonlee411/crm-pep/internal/config"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/spf13/cobra"
)

type RootOptions struct {
	CatalogPath string
	MaxLimit    int
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "peptool",
		Short:         "PEP query compiler tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.CatalogPath, "catalog", "config/pep/catalog.yaml", "entity catalog file")
	cmd.PersistentFlags().IntVar(&opts.MaxLimit, "max-limit", 0, "override limits.max_limit (0 keeps the catalog value)")

	cmd.AddCommand(newCatalogCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newDBCommand())
	return cmd
}

func (o *RootOptions) loadCatalog() (*catalog.Catalog, error) {
	path, err := config.ResolvePath(o.CatalogPath)
	if err != nil {
		return nil, err
	}
	return catalog.Load(path, catalog.WithMaxLimit(o.MaxLimit))
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func readJSONObject(cmd *cobra.Command, path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	b, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
