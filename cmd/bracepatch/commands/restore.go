package commands

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/cmd/bracepatch/opts"
)

// NewRestoreCmd creates a new restore command
func NewRestoreCmd(newOpts func(ctx context.Context) (*opts.RootOpts, error)) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "restore <unit>",
		Short: "Restore a unit from its backup chain",
		Long: `Restore overwrites a unit with a previously snapshotted version.
With no --version flag the most recent snapshot is used; backups are
never deleted, so any recorded version can be restored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "restore").Logger().WithContext(ctx)

			ro, err := newOpts(ctx)
			if err != nil {
				return errors.Errorf("%w: %v", ErrConfig, err)
			}

			unitID := args[0]

			b, ok := ro.Backups.Find(unitID, version)
			if version == 0 {
				b, ok = ro.Backups.Latest(unitID)
			}
			if !ok {
				return errors.Errorf("no backup recorded for %s (version %d)", unitID, version)
			}

			target := filepath.Join(filepath.Dir(ro.Config.Location()), filepath.FromSlash(unitID))
			if err := ro.Backups.Restore(ctx, b, target); err != nil {
				return errors.Errorf("restoring %s: %w", unitID, err)
			}

			ro.ConsoleLogger.Successf("restored %s to version %d", unitID, b.Version)
			return nil
		},
	}

	cmd.Flags().IntVarP(&version, "version", "v", 0, "snapshot version to restore (0 = latest)")

	return cmd
}
