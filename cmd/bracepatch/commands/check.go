package commands

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/cmd/bracepatch/opts"
	"github.com/walteh/bracepatch/pkg/balance"
	"github.com/walteh/bracepatch/pkg/engine"
	"github.com/walteh/bracepatch/pkg/log"
	"github.com/walteh/bracepatch/pkg/scan"
)

// NewCheckCmd creates a new check command
func NewCheckCmd(newOpts func(ctx context.Context) (*opts.RootOpts, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report delimiter balance without modifying anything",
		Long: `Check scans every target unit and reports unmatched structural
delimiters with their line and column. No files are written, no
snapshots are taken.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "check").Logger().WithContext(ctx)

			ro, err := newOpts(ctx)
			if err != nil {
				return errors.Errorf("%w: %v", ErrConfig, err)
			}

			eng, err := engine.New(engine.Options{
				Scanner:   scan.NewScanner(ro.Config.ScanDialect()),
				Analyzer:  balance.NewAnalyzer(ro.Config.DelimiterKinds()),
				CheckOnly: true,
			})
			if err != nil {
				return errors.Errorf("creating engine: %w", err)
			}

			units, err := discoverUnits(ro.Config)
			if err != nil {
				return errors.Errorf("discovering targets: %w", err)
			}

			ro.ConsoleLogger.Header("checking " + strconv.Itoa(len(units)) + " unit(s)")

			imbalanced := 0
			for _, unit := range units {
				result := eng.Check(ctx, unit)

				state := "balanced"
				if !result.Success {
					state = "imbalanced"
					imbalanced++
				}
				ro.ConsoleLogger.LogPatchOperation(ctx, log.PatchOperation{
					Path:            unit.ID,
					State:           state,
					UnmatchedBefore: result.Initial.UnmatchedOpens + result.Initial.UnmatchedCloses,
					UnmatchedAfter:  result.Final.UnmatchedOpens + result.Final.UnmatchedCloses,
				})
				for _, d := range result.Diagnostics {
					ro.ConsoleLogger.Warning(unit.ID + ": " + d)
				}
			}

			if imbalanced > 0 {
				return errors.Errorf("%w: %d of %d unit(s) imbalanced", ErrNotClean, imbalanced, len(units))
			}
			ro.ConsoleLogger.Successf("%d unit(s) balanced", len(units))
			return nil
		},
	}

	return cmd
}
