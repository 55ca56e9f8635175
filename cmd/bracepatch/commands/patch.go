package commands

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/cmd/bracepatch/opts"
	"github.com/walteh/bracepatch/pkg/balance"
	"github.com/walteh/bracepatch/pkg/engine"
	"github.com/walteh/bracepatch/pkg/log"
	"github.com/walteh/bracepatch/pkg/scan"
)

// NewPatchCmd creates a new patch command
func NewPatchCmd(newOpts func(ctx context.Context) (*opts.RootOpts, error)) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply rules and balance repairs to the configured targets",
		Long: `Patch runs the full pipeline on every target unit:
1. Snapshot the unit's current bytes
2. Analyze delimiter balance
3. Apply the configured rules in order
4. Repair any remaining imbalance, when that is safe
5. Re-analyze and commit, or roll back to the snapshot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "patch").Logger().WithContext(ctx)

			ro, err := newOpts(ctx)
			if err != nil {
				return errors.Errorf("%w: %v", ErrConfig, err)
			}

			ruleset, err := ro.Config.CompileRules()
			if err != nil {
				return errors.Errorf("%w: %v", ErrConfig, err)
			}

			eng, err := engine.New(engine.Options{
				Scanner:  scan.NewScanner(ro.Config.ScanDialect()),
				Analyzer: balance.NewAnalyzer(ro.Config.DelimiterKinds()),
				Rules:    ruleset,
				Backups:  ro.Backups,
			})
			if err != nil {
				return errors.Errorf("creating engine: %w", err)
			}

			units, err := discoverUnits(ro.Config)
			if err != nil {
				return errors.Errorf("discovering targets: %w", err)
			}
			if len(units) == 0 {
				ro.ConsoleLogger.Warning("no targets matched")
				return nil
			}

			ro.ConsoleLogger.Header("patching " + strconv.Itoa(len(units)) + " unit(s)")

			results, err := eng.RunBatch(ctx, units, ro.Config.Workers)
			if err != nil {
				return errors.Errorf("running batch: %w", err)
			}

			dirty := 0
			for _, r := range results {
				ro.ConsoleLogger.LogPatchOperation(ctx, operationFor(r))
				for _, d := range r.Diagnostics {
					ro.ConsoleLogger.Warning(r.Unit + ": " + d)
				}
				if !r.Success {
					dirty++
				}
			}

			if jsonOut {
				encoded, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return errors.Errorf("encoding results: %w", err)
				}
				_, _ = cmd.OutOrStdout().Write(append(encoded, '\n'))
			} else {
				renderSummary(results)
			}

			if dirty > 0 {
				return errors.Errorf("%w: %d of %d unit(s) rolled back", ErrNotClean, dirty, len(results))
			}
			ro.ConsoleLogger.Successf("%d unit(s) committed", len(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit run results as JSON")

	return cmd
}

// operationFor maps a run result onto a console log row.
func operationFor(r *engine.RunResult) log.PatchOperation {
	applied, skipped := 0, 0
	repairName := ""
	for _, a := range r.Actions {
		if a.Name == "repair:noop" {
			continue
		}
		if len(a.Name) > 7 && a.Name[:7] == "repair:" {
			repairName = a.Name[7:]
			continue
		}
		if a.Applied {
			applied++
		} else {
			skipped++
		}
	}
	return log.PatchOperation{
		Path:            r.Unit,
		State:           r.StateName,
		RulesApplied:    applied,
		RulesSkipped:    skipped,
		Repair:          repairName,
		UnmatchedBefore: r.Initial.UnmatchedOpens + r.Initial.UnmatchedCloses,
		UnmatchedAfter:  r.Final.UnmatchedOpens + r.Final.UnmatchedCloses,
	}
}

// renderSummary prints the per-unit outcome table.
func renderSummary(results []*engine.RunResult) {
	data := pterm.TableData{
		{"UNIT", "STATE", "VERSION", "UNMATCHED BEFORE", "UNMATCHED AFTER"},
	}
	for _, r := range results {
		data = append(data, []string{
			r.Unit,
			r.StateName,
			strconv.Itoa(r.BackupVersion),
			strconv.Itoa(r.Initial.UnmatchedOpens + r.Initial.UnmatchedCloses),
			strconv.Itoa(r.Final.UnmatchedOpens + r.Final.UnmatchedCloses),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
