package peptool

import (
	"fmt"
	"time"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/modules/pep/infrastructure/persistence"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	*RootOptions
	IR        string
	Payload   string
	Variables string
	Now       string
	Timezone  string
	Tenant    string
}

type replayResult struct {
	IR   types.ResolvedQuery `json:"ir"`
	SQL  string              `json:"sql,omitempty"`
	Args []any               `json:"args,omitempty"`
}

func newReplayCommand(root *RootOptions) *cobra.Command {
	opts := &replayOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Substitute variables into stored IR the way a report run does",
		Long: `Replay checks a compiled IR against the catalog, applies payload and
workflow variables plus date tokens, and prints the executable IR. With
--tenant it also prints the parameterized SQL the executor would send.

Examples:
  peptool replay --ir report.json --payload payload.json
  peptool replay --ir report.json --now 2026-10-19T09:00:00Z --tz Europe/Berlin --tenant 11111111-1111-1111-1111-111111111111`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.IR, "ir", "", "compiled IR file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("ir")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "trigger payload JSON file")
	cmd.Flags().StringVar(&opts.Variables, "vars", "", "workflow variables JSON file")
	cmd.Flags().StringVar(&opts.Now, "now", "", "reference time for date tokens (default: current time)")
	cmd.Flags().StringVar(&opts.Timezone, "tz", "UTC", "timezone for date tokens")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "render SQL for this tenant id")
	return cmd
}

func runReplay(cmd *cobra.Command, opts *replayOptions) error {
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}
	raw, err := readInput(cmd, opts.IR)
	if err != nil {
		return err
	}
	payload, err := readJSONObject(cmd, opts.Payload)
	if err != nil {
		return err
	}
	variables, err := readJSONObject(cmd, opts.Variables)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	resolver := services.NewVariableResolver(loc)
	if opts.Now != "" {
		now, err := cast.ToTimeInDefaultLocationE(opts.Now, loc)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		resolver.Now = func() time.Time { return now }
	}

	stored, err := services.NewSavedReportsService(nil, cat, nil).CheckCompiledIR(raw)
	if err != nil {
		return err
	}
	ir, err := resolver.ResolveIR(stored, payload, variables)
	if err != nil {
		return err
	}

	out := replayResult{IR: ir}
	if opts.Tenant != "" {
		sql, args, err := persistence.CompileSelect(ir, opts.Tenant)
		if err != nil {
			return err
		}
		out.SQL = sql
		out.Args = args
	}
	return writeIndented(cmd.OutOrStdout(), out)
}
