package commands

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/pkg/config"
	"github.com/walteh/bracepatch/pkg/engine"
)

// Sentinel errors the exit-code mapping in main relies on.
var (
	// ErrNotClean means at least one unit ended imbalanced or rolled
	// back; calling automation treats it as "could not safely repair".
	ErrNotClean = errors.New("not all units are clean")

	// ErrConfig marks configuration problems (distinct exit code from
	// run failures).
	ErrConfig = errors.New("configuration error")
)

// discoverUnits expands the config's target globs, rooted at the
// config file's directory, into loaded source units. Paths under the
// backup directory are never targets.
func discoverUnits(cfg *config.Config) ([]*engine.SourceUnit, error) {
	root := filepath.Dir(cfg.Location())
	backupDir := cfg.ResolvedBackupDir()

	seen := map[string]bool{}
	var units []*engine.SourceUnit

	for _, glob := range cfg.Targets {
		matches, err := doublestar.FilepathGlob(filepath.Join(root, glob))
		if err != nil {
			return nil, errors.Errorf("expanding target glob %q: %w", glob, err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, errors.Errorf("inspecting target %s: %w", match, err)
			}
			if info.IsDir() || seen[match] {
				continue
			}
			if within(backupDir, match) {
				continue
			}
			seen[match] = true

			id, err := filepath.Rel(root, match)
			if err != nil {
				id = match
			}
			unit, err := engine.LoadUnit(filepath.ToSlash(id), match)
			if err != nil {
				return nil, err
			}
			units = append(units, unit)
		}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
