package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/logging"
)

func writeArtifact(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("dump"), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestApplyRetention_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.sql", "b.zip", "c.tar.gz", "d.tar.zst", "e.tar.lz4"} {
		writeArtifact(t, dir, name, base.Add(time.Duration(i)*time.Hour))
	}

	removed := applyRetention(dir, 2, logging.NewNopLogger())
	assert.Len(t, removed, 3)

	remaining, err := listArtifacts(dir)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "e.tar.lz4", remaining[0].Name)
	assert.Equal(t, "d.tar.zst", remaining[1].Name)
}

func TestApplyRetention_TieBreaksByNameDescending(t *testing.T) {
	dir := t.TempDir()
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeArtifact(t, dir, "shop_20240101_000000_001.sql", same)
	writeArtifact(t, dir, "shop_20240101_000000_002.sql", same)
	writeArtifact(t, dir, "shop_20240101_000000_003.sql", same)

	applyRetention(dir, 1, logging.NewNopLogger())

	remaining, err := listArtifacts(dir)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "shop_20240101_000000_003.sql", remaining[0].Name)
}

func TestApplyRetention_ZeroKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeArtifact(t, dir, "one.sql", now)
	writeArtifact(t, dir, "two.sql", now)

	assert.Nil(t, applyRetention(dir, 0, logging.NewNopLogger()))
	assert.Nil(t, applyRetention(dir, -1, logging.NewNopLogger()))

	remaining, err := listArtifacts(dir)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func writeStagingDir(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, name+".sql"), []byte("partial"), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestApplyRetention_IgnoresOtherEntries(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	writeArtifact(t, dir, "notes.txt", old)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "keep-me"), 0o755))
	writeArtifact(t, dir, "old.sql", old)
	writeArtifact(t, dir, "new.sql", old.Add(time.Hour))

	applyRetention(dir, 1, logging.NewNopLogger())

	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.DirExists(t, filepath.Join(dir, "keep-me"))
	assert.NoFileExists(t, filepath.Join(dir, "old.sql"))
}

func TestApplyRetention_PrunesStaleStagingDirs(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	canceledLongAgo := writeStagingDir(t, dir, "shop_20240101_000000_000", base)
	writeArtifact(t, dir, "shop_20240101_010000_000.zip", base.Add(time.Hour))
	canceledInWindow := writeStagingDir(t, dir, "shop_20240101_013000_000", base.Add(90*time.Minute))
	writeArtifact(t, dir, "shop_20240101_020000_000.zip", base.Add(2*time.Hour))
	writeArtifact(t, dir, "shop_20240101_030000_000.zip", base.Add(3*time.Hour))

	removed := applyRetention(dir, 2, logging.NewNopLogger())

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "shop_20240101_010000_000.zip"),
		canceledLongAgo,
	}, removed)
	assert.NoDirExists(t, canceledLongAgo)
	assert.DirExists(t, canceledInWindow, "a staging directory newer than the oldest kept artifact stays")
}

func TestApplyRetention_StagingDirsBeforeWindowFills(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	staging := writeStagingDir(t, dir, "shop_20240101_000000_000", base)
	writeArtifact(t, dir, "shop_20240101_010000_000.zip", base.Add(time.Hour))

	// fewer artifacts than keep: nothing is pruned yet
	assert.Empty(t, applyRetention(dir, 2, logging.NewNopLogger()))
	assert.DirExists(t, staging)

	// exactly keep artifacts: the older staging directory goes
	assert.Equal(t, []string{staging}, applyRetention(dir, 1, logging.NewNopLogger()))
	assert.NoDirExists(t, staging)
}

func TestApplyRetention_MissingRootIsIgnored(t *testing.T) {
	assert.Nil(t, applyRetention(filepath.Join(t.TempDir(), "missing"), 3, logging.NewNopLogger()))
}
