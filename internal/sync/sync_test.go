package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/fscache"
	"github.com/schaermu/rindex/internal/metrics"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/repo"
	treeutil "github.com/schaermu/rindex/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func readIndex(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, toml.Unmarshal(data, &out))
	return out
}

// openCounter wraps os.Open and counts calls
type openCounter struct {
	opens int
}

func (c *openCounter) open(path string) (io.ReadCloser, error) {
	c.opens++
	return os.Open(path)
}

// runSync performs one full run of src into the repository at dir
func runSync(t *testing.T, dir, src string, raw map[string]any, chain *filter.Chain, cache fscache.Cache, opts ...Option) {
	t.Helper()
	cfg, err := repo.NewConfig(raw, chain)
	require.NoError(t, err)
	r := repo.New(dir, cfg, testLogger(), nil)

	w := NewWorker(r, cache, testLogger(), opts...)
	require.NoError(t, w.Sync(context.Background(), src, pathutil.Root))
	require.NoError(t, r.Close())
}

func scenarioConfig() map[string]any {
	return map[string]any{
		".":    map[string]any{"standalone": 1, "save_sha256": true, "save_mtime": false},
		"data": map[string]any{"standalone": 0},
	}
}

func TestSyncWritesIndexAtStandaloneAncestor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data", "a.txt"), "hi")

	runSync(t, dir, dir, scenarioConfig(), filter.Default(), fscache.NewMemory())

	assert.NoFileExists(t, filepath.Join(dir, "data", repo.IndexFilename))
	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	require.Contains(t, index, "data/a.txt")

	rec := index["data/a.txt"].(map[string]any)
	assert.Equal(t, sha256Hex("hi"), rec["sha256"])
	assert.EqualValues(t, 2, rec["size"])
	assert.NotContains(t, rec, "mtime")
}

func TestSyncSeparateSource(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x", "b.txt"), "hello")
	writeFile(t, filepath.Join(src, "c.txt"), "c")

	raw := map[string]any{"x": map[string]any{"standalone": 1}}
	runSync(t, dir, src, raw, filter.Default(), fscache.NewMemory())

	root := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Contains(t, root, "c.txt")
	assert.NotContains(t, root, "x/b.txt", "x has its own index")

	sub := readIndex(t, filepath.Join(dir, "x", repo.IndexFilename))
	assert.Equal(t, sha256Hex("hello"), sub["b.txt"].(map[string]any)["sha256"])
}

func TestSyncRemovesDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	cache := fscache.NewMemory()
	writeFile(t, filepath.Join(dir, "data", "a.txt"), "hi")
	runSync(t, dir, dir, scenarioConfig(), filter.Default(), cache)
	require.Equal(t, []string{"data/a.txt", repo.IndexFilename}, treeutil.ListTree(t, dir))

	require.NoError(t, os.Remove(filepath.Join(dir, "data", "a.txt")))
	runSync(t, dir, dir, scenarioConfig(), filter.Default(), cache)

	assert.NoFileExists(t, filepath.Join(dir, repo.IndexFilename), "an empty index is removed")
	assert.NoDirExists(t, filepath.Join(dir, "data"), "empty directories are removed")
	assert.Empty(t, treeutil.ListTree(t, dir))
}

func TestSyncPrunesStaleRepositoryDirectories(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep", "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "gone", repo.IndexFilename), "")

	runSync(t, dir, src, map[string]any{}, filter.Default(), fscache.NewMemory())

	assert.NoDirExists(t, filepath.Join(dir, "gone"))
	assert.Equal(t, []string{repo.IndexFilename}, treeutil.ListTree(t, dir))
	assert.Contains(t, readIndex(t, filepath.Join(dir, repo.IndexFilename)), "keep/a.txt")
}

func TestSyncSkipsIgnoredPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "skip", "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "c.tmp"), "c")

	raw := map[string]any{
		"skip":  map[string]any{"data": map[string]any{"ignore": true}},
		"c.tmp": map[string]any{"data": map[string]any{"ignore": true}},
	}
	runSync(t, dir, dir, raw, filter.Default(), fscache.NewMemory())

	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Contains(t, index, "a.txt")
	assert.NotContains(t, index, "c.tmp")
	for k := range index {
		assert.False(t, strings.HasPrefix(k, "skip"), "ignored entry %s", k)
	}
	assert.NoFileExists(t, filepath.Join(dir, "skip", repo.IndexFilename))
	assert.FileExists(t, filepath.Join(dir, "skip", "b.txt"), "ignored content is never pruned")
}

func TestSyncDoesNotIndexItsOwnFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, repo.ConfigFilename), "")
	writeFile(t, filepath.Join(dir, repo.StateDirname, "cache"), "x")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	runSync(t, dir, dir, map[string]any{}, filter.Default(), fscache.NewMemory())
	runSync(t, dir, dir, map[string]any{}, filter.Default(), fscache.NewMemory())

	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Len(t, index, 1)
	assert.Contains(t, index, "a.txt")
	assert.DirExists(t, filepath.Join(dir, repo.StateDirname))
	assert.Equal(t, []string{".rindex/cache", "a.txt", repo.IndexFilename, repo.ConfigFilename}, treeutil.ListTree(t, dir))
}

func TestSyncSkipsLeftoverIndexTemp(t *testing.T) {
	dir := t.TempDir()
	leftover := repo.IndexFilename + ".123456.dat"
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, leftover), "partial")

	runSync(t, dir, dir, map[string]any{}, filter.Default(), fscache.NewMemory())

	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Contains(t, index, "a.txt")
	assert.NotContains(t, index, leftover)
	assert.FileExists(t, filepath.Join(dir, leftover))
}

func TestSyncUnchangedFileIsNotRead(t *testing.T) {
	dir := t.TempDir()
	cache := fscache.NewMemory()
	writeFile(t, filepath.Join(dir, "a.txt"), "hi")

	first := &openCounter{}
	runSync(t, dir, dir, map[string]any{}, filter.Default(), cache, WithOpener(first.open))
	assert.Equal(t, 1, first.opens)

	second := &openCounter{}
	m := metrics.New()
	runSync(t, dir, dir, map[string]any{}, filter.Default(), cache, WithOpener(second.open), WithMetrics(m))
	assert.Zero(t, second.opens)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesReused))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FSCacheHits))

	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Equal(t, sha256Hex("hi"), index["a.txt"].(map[string]any)["sha256"], "digest is carried forward")
}

// feedCounter counts the chunks delivered to its parsers
type feedCounter struct {
	filter.Base
	feeds int
}

func (f *feedCounter) Name() string { return "feeds" }

func (f *feedCounter) PutIndex(_ *entry.FileEntry, changed bool, _ *entry.PathConfig, _ *entry.FileEntry) bool {
	return changed
}

func (f *feedCounter) ParseContent(*entry.FileEntry) filter.Parser { return feedParser{f} }

type feedParser struct{ f *feedCounter }

func (p feedParser) Feed([]byte) bool {
	p.f.feeds++
	return false
}

func (p feedParser) Finish() {}

func TestSyncReadsChangedFileOnce(t *testing.T) {
	dir := t.TempDir()
	cache := fscache.NewMemory()
	path := filepath.Join(dir, "big.bin")
	writeFile(t, path, strings.Repeat("x", 10000))

	counter := &feedCounter{}
	chain := filter.NewChain(
		filter.NewSizeFilter(),
		filter.NewModtimeFilter(),
		filter.NewStandaloneFilter(),
		filter.NewCRC32Filter(),
		filter.NewSHA256Filter(),
		counter,
	)
	raw := map[string]any{".": map[string]any{"save_crc32": true}}
	runSync(t, dir, dir, raw, chain, cache)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	counter.feeds = 0
	m := metrics.New()
	runSync(t, dir, dir, raw, chain, cache, WithMetrics(m))

	assert.Equal(t, 3, counter.feeds, "ceil(10000/4096) chunks")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksRead), "one pass shared by all parsers")
	assert.Equal(t, 10000.0, testutil.ToFloat64(m.BytesHashed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesRehashed))
}

func TestSyncSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	runSync(t, dir, dir, map[string]any{}, filter.Default(), fscache.NewMemory())

	writeFile(t, filepath.Join(dir, "b.txt"), "changed")
	cfg, err := repo.NewConfig(map[string]any{}, filter.Default())
	require.NoError(t, err)
	r := repo.New(dir, cfg, testLogger(), nil)
	w := NewWorker(r, fscache.NewMemory(), testLogger())
	require.NoError(t, w.Sync(context.Background(), filepath.Join(dir, "b.txt"), "b.txt"))
	require.NoError(t, r.Close())

	index := readIndex(t, filepath.Join(dir, repo.IndexFilename))
	assert.Equal(t, sha256Hex("a"), index["a.txt"].(map[string]any)["sha256"], "siblings are kept")
	assert.Equal(t, sha256Hex("changed"), index["b.txt"].(map[string]any)["sha256"])
}

func TestSyncFileAsRootFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	cfg, err := repo.NewConfig(map[string]any{}, filter.Default())
	require.NoError(t, err)
	w := NewWorker(repo.New(dir, cfg, testLogger(), nil), fscache.NewMemory(), testLogger())
	assert.Error(t, w.Sync(context.Background(), filepath.Join(dir, "a.txt"), pathutil.Root))
}

func TestSyncRejectsSpecialFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "dangling")))

	cfg, err := repo.NewConfig(map[string]any{}, filter.Default())
	require.NoError(t, err)
	w := NewWorker(repo.New(dir, cfg, testLogger(), nil), fscache.NewMemory(), testLogger())
	assert.Error(t, w.Sync(context.Background(), dir, pathutil.Root))
}

func TestSyncCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	cfg, err := repo.NewConfig(map[string]any{}, filter.Default())
	require.NoError(t, err)
	w := NewWorker(repo.New(dir, cfg, testLogger(), nil), fscache.NewMemory(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Sync(ctx, dir, pathutil.Root), context.Canceled)
	assert.NoFileExists(t, filepath.Join(dir, repo.IndexFilename))
}
