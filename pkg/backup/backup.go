package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// manifestName is the index file kept beside the backup objects.
const manifestName = "bracepatch.manifest.json"

// Backup is one immutable snapshot of a unit's bytes. Snapshots are
// never overwritten or auto-deleted; a chain of repairs can be unwound
// to any recorded version.
type Backup struct {
	UnitID      string    `json:"unit_id"`
	Version     int       `json:"version"`
	Path        string    `json:"path"` // backup object on disk
	ContentHash string    `json:"content_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// manifest is the persisted index of all snapshots taken under one
// backup directory.
type manifest struct {
	LastUpdated time.Time `json:"last_updated"`
	Backups     []Backup  `json:"backups"`
}

// Manager snapshots unit content into a configured directory and
// restores it on demand. Safe for concurrent use by parallel unit runs.
type Manager struct {
	dir string

	mu       sync.Mutex
	manifest manifest
}

// NewManager opens (creating if needed) a backup directory and loads
// its manifest.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Errorf("creating backup directory: %w", err)
	}

	m := &Manager{dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Errorf("reading backup manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.manifest); err != nil {
		return nil, errors.Errorf("parsing backup manifest: %w", err)
	}
	return m, nil
}

// Snapshot records content as the backup for (unitID, version). The
// object name is deterministic ({unit}.{version}.bak) and an existing
// object for the same pair is a hard error: versions are the
// compare-and-swap token that gives a run exclusive ownership of its
// unit.
func (m *Manager) Snapshot(ctx context.Context, unitID string, version int, content []byte) (*Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := objectName(unitID, version)
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Errorf("backup %s already exists: unit %s version %d is owned by another run",
				name, unitID, version)
		}
		return nil, errors.Errorf("creating backup object: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, errors.Errorf("writing backup object: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Errorf("closing backup object: %w", err)
	}

	sum := sha256.Sum256(content)
	b := Backup{
		UnitID:      unitID,
		Version:     version,
		Path:        path,
		ContentHash: hex.EncodeToString(sum[:]),
		Timestamp:   time.Now().UTC(),
	}
	m.manifest.Backups = append(m.manifest.Backups, b)
	m.manifest.LastUpdated = b.Timestamp

	if err := m.writeManifestLocked(); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("unit", unitID).
		Int("version", version).
		Str("object", name).
		Msg("snapshot taken")

	return &b, nil
}

// Restore writes the backup's bytes over targetPath, verifying the
// stored object still matches its recorded hash first.
func (m *Manager) Restore(ctx context.Context, b *Backup, targetPath string) error {
	content, err := os.ReadFile(b.Path)
	if err != nil {
		return errors.Errorf("reading backup object: %w", err)
	}

	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != b.ContentHash {
		return errors.Errorf("backup object %s does not match its recorded hash", b.Path)
	}

	if err := os.WriteFile(targetPath, content, 0o644); err != nil {
		return errors.Errorf("restoring %s: %w", targetPath, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("unit", b.UnitID).
		Int("version", b.Version).
		Str("target", targetPath).
		Msg("restored from backup")
	return nil
}

// Find returns the backup for (unitID, version) if one is recorded.
func (m *Manager) Find(unitID string, version int) (*Backup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.manifest.Backups {
		b := m.manifest.Backups[i]
		if b.UnitID == unitID && b.Version == version {
			return &b, true
		}
	}
	return nil, false
}

// Latest returns the most recent backup for unitID.
func (m *Manager) Latest(unitID string) (*Backup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Backup
	for i := range m.manifest.Backups {
		b := m.manifest.Backups[i]
		if b.UnitID != unitID {
			continue
		}
		if latest == nil || b.Version > latest.Version {
			latest = &b
		}
	}
	if latest == nil {
		return nil, false
	}
	out := *latest
	return &out, true
}

// NextVersion returns the version a new run of unitID should snapshot
// as: one past the highest recorded version, starting at 1.
func (m *Manager) NextVersion(unitID string) int {
	if b, ok := m.Latest(unitID); ok {
		return b.Version + 1
	}
	return 1
}

// List returns all recorded backups for unitID in version order.
func (m *Manager) List(unitID string) []Backup {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Backup
	for _, b := range m.manifest.Backups {
		if b.UnitID == unitID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (m *Manager) writeManifestLocked() error {
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return errors.Errorf("encoding backup manifest: %w", err)
	}
	path := filepath.Join(m.dir, manifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Errorf("writing backup manifest: %w", err)
	}
	return nil
}

// objectName flattens a unit identifier into a single deterministic
// file name of the form {unit}.{version}.bak.
func objectName(unitID string, version int) string {
	flat := strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(unitID)
	return flat + "." + strconv.Itoa(version) + ".bak"
}
