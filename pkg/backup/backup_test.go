package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SnapshotAndRestore(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "unit.rs")
	original := []byte("fn f() { }\n")
	require.NoError(t, os.WriteFile(target, original, 0o644))

	mgr, err := NewManager(filepath.Join(dir, "backups"))
	require.NoError(t, err)

	ctx := context.Background()
	b, err := mgr.Snapshot(ctx, "unit.rs", 1, original)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
	assert.FileExists(t, b.Path)
	assert.Equal(t, filepath.Base(b.Path), "unit.rs.1.bak")

	// Clobber the target, then round-trip back to the original bytes.
	require.NoError(t, os.WriteFile(target, []byte("corrupted"), 0o644))
	require.NoError(t, mgr.Restore(ctx, b, target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestManager_SnapshotNeverOverwrites(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = mgr.Snapshot(ctx, "a.rs", 1, []byte("one"))
	require.NoError(t, err)

	_, err = mgr.Snapshot(ctx, "a.rs", 1, []byte("two"))
	require.Error(t, err, "same unit+version must be rejected")
	assert.Contains(t, err.Error(), "owned by another run")
}

func TestManager_VersionChain(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, 1, mgr.NextVersion("chain.rs"))

	for v, content := range map[int]string{1: "v1", 2: "v2", 3: "v3"} {
		_, err := mgr.Snapshot(ctx, "chain.rs", v, []byte(content))
		require.NoError(t, err)
	}

	assert.Equal(t, 4, mgr.NextVersion("chain.rs"))

	latest, ok := mgr.Latest("chain.rs")
	require.True(t, ok)
	assert.Equal(t, 3, latest.Version)

	b, ok := mgr.Find("chain.rs", 2)
	require.True(t, ok)
	content, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	versions := []int{}
	for _, b := range mgr.List("chain.rs") {
		versions = append(versions, b.Version)
	}
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestManager_ManifestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	mgr, err := NewManager(dir)
	require.NoError(t, err)
	_, err = mgr.Snapshot(context.Background(), "persist.rs", 1, []byte("content"))
	require.NoError(t, err)

	reopened, err := NewManager(dir)
	require.NoError(t, err)

	b, ok := reopened.Find("persist.rs", 1)
	require.True(t, ok)
	assert.Equal(t, "persist.rs", b.UnitID)
	assert.Equal(t, 2, reopened.NextVersion("persist.rs"))
}

func TestManager_RestoreDetectsTamperedObject(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir)
	require.NoError(t, err)

	b, err := mgr.Snapshot(context.Background(), "t.rs", 1, []byte("good"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(b.Path, []byte("tampered"), 0o644))

	err = mgr.Restore(context.Background(), b, filepath.Join(dir, "t.rs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match its recorded hash")
}

func TestObjectName_FlattensPaths(t *testing.T) {
	assert.Equal(t, "src__ir__mod.rs.3.bak", objectName("src/ir/mod.rs", 3))
}
