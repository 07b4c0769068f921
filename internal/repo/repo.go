// Package repo implements the repository: resolved path configuration,
// reference-counted caches of open folders and files, and the per-folder
// index files they are flushed to.
package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/metrics"
	"github.com/schaermu/rindex/internal/pathutil"
)

const (
	IndexFilename  = "index.toml"
	ConfigFilename = "rindex.toml"
	// StateDirname holds local state such as the fscache; it lives in the root
	StateDirname = ".rindex"
)

type cachedFile struct {
	entry *entry.FileEntry
	refs  int
}

// Repository owns the open-folder and open-file caches of one sync run.
// It is not safe for concurrent use.
type Repository struct {
	root    string
	config  *Config
	chain   *filter.Chain
	logger  *slog.Logger
	metrics *metrics.Sync

	dirs  map[pathutil.RelPath]*entry.DirEntry
	files map[pathutil.RelPath]*cachedFile
}

// New creates a repository rooted at the absolute directory root
func New(root string, cfg *Config, logger *slog.Logger, m *metrics.Sync) *Repository {
	return &Repository{
		root:    root,
		config:  cfg,
		chain:   cfg.Chain(),
		logger:  logger,
		metrics: m,
		dirs:    make(map[pathutil.RelPath]*entry.DirEntry),
		files:   make(map[pathutil.RelPath]*cachedFile),
	}
}

// Open finds the repository containing start, loads its configuration and
// returns it together with start's path inside the repository
func Open(start string, chain *filter.Chain, logger *slog.Logger, m *metrics.Sync) (*Repository, pathutil.RelPath, error) {
	root, rel, err := FindRoot(start)
	if err != nil {
		return nil, "", err
	}

	cfg, err := LoadConfig(root, chain)
	if err != nil {
		return nil, "", err
	}

	logger.Debug("repository opened", "root", root, "path", rel.String())
	return New(root, cfg, logger, m), rel, nil
}

// Root returns the repository's directory
func (r *Repository) Root() string {
	return r.root
}

// Config returns the resolved configuration
func (r *Repository) Config() *Config {
	return r.config
}

// StateDir returns the directory for local state
func (r *Repository) StateDir() string {
	return filepath.Join(r.root, StateDirname)
}

func (r *Repository) physical(p pathutil.RelPath) string {
	return filepath.Join(r.root, p.OSPath())
}

func (r *Repository) indexPath(p pathutil.RelPath) string {
	return filepath.Join(r.physical(p), IndexFilename)
}

// IsRepoDir reports whether dir is the repository's own directory for p,
// which is the case when a tree is indexed in place
func (r *Repository) IsRepoDir(dir string, p pathutil.RelPath) bool {
	a, err := os.Stat(dir)
	if err != nil {
		return false
	}
	b, err := os.Stat(r.physical(p))
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

// IsReserved reports whether name inside the repository folder p belongs
// to the repository itself and must neither be indexed nor pruned
func IsReserved(p pathutil.RelPath, name string) bool {
	if name == IndexFilename || IsIndexTemp(name) {
		return true
	}
	return p.IsRoot() && (name == ConfigFilename || name == StateDirname)
}

// IsIndexTemp matches the temporary file an index write goes through,
// which a failed write leaves behind
func IsIndexTemp(name string) bool {
	return strings.HasPrefix(name, IndexFilename+".") && strings.HasSuffix(name, ".dat")
}

// OpenFolder opens p and, recursively, its ancestors. An index file found
// in a newly opened folder is loaded into the file cache.
func (r *Repository) OpenFolder(p pathutil.RelPath) error {
	if d, ok := r.dirs[p]; ok {
		d.RefCount++
		return nil
	}

	if !p.IsRoot() {
		if err := r.OpenFolder(p.Parent()); err != nil {
			return err
		}
	}

	if err := r.loadIndex(p); err != nil {
		return err
	}

	r.dirs[p] = &entry.DirEntry{RefCount: 1}
	return nil
}

// CloseFolder releases p. When the last reference goes, the folder's index
// is exported if that has not happened yet, leftovers are cleaned up and
// the parent is released too.
func (r *Repository) CloseFolder(p pathutil.RelPath) error {
	d, ok := r.dirs[p]
	if !ok {
		return fmt.Errorf("%w: folder %s", ErrNotOpen, p)
	}

	d.RefCount--
	if d.RefCount < 0 {
		return fmt.Errorf("%w: folder %s closed more often than opened", ErrUnbalanced, p)
	}
	if d.RefCount > 0 {
		return nil
	}

	if !d.Exported {
		if err := r.ExportFolderIndex(p, true); err != nil {
			return err
		}
	}

	if !d.Flushed {
		if err := r.removeIndex(p); err != nil {
			return err
		}
	}

	if !p.IsRoot() {
		if err := r.removeIfEmpty(p); err != nil {
			return err
		}
	}

	delete(r.dirs, p)

	if p.IsRoot() {
		return nil
	}
	return r.CloseFolder(p.Parent())
}

// ExportFolderIndex writes the index of p, covering every cached file below
// it, and evicts those files. Folders with a standalone depth of 0 are left
// to an ancestor. Unless allowUnused is set, entries nobody opened during
// this run are dropped.
func (r *Repository) ExportFolderIndex(p pathutil.RelPath, allowUnused bool) error {
	cfg := r.config.Lookup(p)
	if cfg.Standalone == 0 {
		return nil
	}

	d := r.dirs[p]
	if d != nil {
		d.Exported = true
	}

	data := make(map[string]any)
	var covered []pathutil.RelPath
	for fp, f := range r.files {
		suffix, ok := fp.Rel(p)
		if !ok || suffix.IsRoot() {
			continue
		}
		covered = append(covered, fp)

		if f.entry == nil || (!allowUnused && f.refs == 0) {
			continue
		}
		fcfg := r.config.Lookup(fp)
		if fcfg.Mode == entry.ModeIgnore {
			continue
		}
		data[string(suffix)] = r.chain.ExportToIndex(f.entry, fcfg)
	}

	if len(data) == 0 {
		if err := r.removeIndex(p); err != nil {
			return err
		}
	} else {
		if err := r.writeIndex(p, data); err != nil {
			return err
		}
		if d != nil {
			d.Flushed = true
		}
	}

	// only evict once the index is durable
	for _, fp := range covered {
		delete(r.files, fp)
	}

	r.logger.Debug("exported folder index", "path", p.String(), "entries", len(data), "evicted", len(covered))
	return nil
}

// PruneUnopenedEntries removes subdirectories of p that exist in the
// repository but were not opened during this run
func (r *Repository) PruneUnopenedEntries(p pathutil.RelPath) error {
	dir := r.physical(p)
	children, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, child := range children {
		if child.Type().IsRegular() || child.Type()&fs.ModeSymlink != 0 || IsReserved(p, child.Name()) {
			continue
		}
		cp := p.Join(child.Name())
		if !child.IsDir() {
			return fmt.Errorf("%s is neither a file nor a directory", filepath.Join(dir, child.Name()))
		}

		switch r.config.Lookup(cp).Mode {
		case entry.ModeIgnore, entry.ModeBind:
			continue
		}
		if d, ok := r.dirs[cp]; ok && d.RefCount > 0 {
			continue
		}

		if err := os.RemoveAll(r.physical(cp)); err != nil {
			return fmt.Errorf("failed to prune %s: %w", cp, err)
		}
		r.metrics.DirectoryPruned()
		r.logger.Info("pruned stale directory", "path", cp.String())
	}
	return nil
}

// OpenFile takes a reference on the file slot at p, creating it if needed
func (r *Repository) OpenFile(p pathutil.RelPath) {
	if f, ok := r.files[p]; ok {
		f.refs++
		return
	}
	r.files[p] = &cachedFile{refs: 1}
}

// CloseFile releases a reference taken by OpenFile. The slot is dropped
// from the cache with its last reference.
func (r *Repository) CloseFile(p pathutil.RelPath) error {
	f, ok := r.files[p]
	if !ok {
		return fmt.Errorf("%w: file %s", ErrNotOpen, p)
	}
	f.refs--
	if f.refs < 0 {
		return fmt.Errorf("%w: file %s closed more often than opened", ErrUnbalanced, p)
	}
	if f.refs == 0 {
		delete(r.files, p)
	}
	return nil
}

// FileEntry returns the cached entry at p
func (r *Repository) FileEntry(p pathutil.RelPath) (*entry.FileEntry, bool) {
	f, ok := r.files[p]
	if !ok || f.entry == nil {
		return nil, false
	}
	return f.entry, true
}

// SetFileEntry installs e at p, keeping the slot's reference count
func (r *Repository) SetFileEntry(p pathutil.RelPath, e *entry.FileEntry) {
	if f, ok := r.files[p]; ok {
		f.entry = e
		return
	}
	r.files[p] = &cachedFile{entry: e}
}

// Close checks that every open folder and file has been released
func (r *Repository) Close() error {
	if len(r.dirs) > 0 || len(r.files) > 0 {
		return fmt.Errorf("%w: %d folders and %d files still cached", ErrUnbalanced, len(r.dirs), len(r.files))
	}
	return nil
}

func (r *Repository) removeIfEmpty(p pathutil.RelPath) error {
	dir := r.physical(p)
	children, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if len(children) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove empty directory %s: %w", dir, err)
	}
	r.logger.Debug("removed empty directory", "path", p.String())
	return nil
}
