package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/fscache"
	"github.com/schaermu/rindex/internal/metrics"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/progress"
	"github.com/schaermu/rindex/internal/repo"
)

// ChunkSize is the block size of the content read pass
const ChunkSize = 4096

// ErrUnsupportedType is returned for entries that are neither regular files nor directories
var ErrUnsupportedType = errors.New("neither a file nor a directory")

// Opener opens a file for the content read pass
type Opener func(path string) (io.ReadCloser, error)

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Worker mirrors a physical tree into a repository
type Worker struct {
	repo     *repo.Repository
	config   *repo.Config
	chain    *filter.Chain
	cache    fscache.Cache
	logger   *slog.Logger
	metrics  *metrics.Sync
	progress progress.Reporter
	open     Opener
}

// Option configures a Worker
type Option func(*Worker)

// WithMetrics records counters for the run
func WithMetrics(m *metrics.Sync) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithProgress reports every indexed file
func WithProgress(p progress.Reporter) Option {
	return func(w *Worker) { w.progress = p }
}

// WithOpener replaces the function used to read file content
func WithOpener(o Opener) Option {
	return func(w *Worker) { w.open = o }
}

// NewWorker creates a sync worker
func NewWorker(r *repo.Repository, cache fscache.Cache, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		repo:     r,
		config:   r.Config(),
		chain:    r.Config().Chain(),
		cache:    cache,
		logger:   logger,
		progress: progress.Nop{},
		open:     openFile,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync indexes physical, a file or directory, at logical in the repository
func (w *Worker) Sync(ctx context.Context, physical string, logical pathutil.RelPath) error {
	info, err := os.Stat(physical)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", physical, err)
	}

	if skip, mode := w.skipped(logical); skip {
		w.logger.Info("path is not indexed", "path", logical.String(), "mode", mode.String())
		return nil
	}

	switch {
	case info.Mode().IsRegular():
		return w.syncFile(physical, logical)
	case info.IsDir():
		return w.syncDir(ctx, physical, logical)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, physical)
	}
}

// skipped reports whether logical is ignored or bound to another path
func (w *Worker) skipped(logical pathutil.RelPath) (bool, entry.DataMode) {
	mode := w.config.Lookup(logical).Mode
	return mode == entry.ModeIgnore || mode == entry.ModeBind, mode
}

// syncFile indexes a single file. Its folder is opened and closed around
// it so the entry is flushed together with its untouched siblings.
func (w *Worker) syncFile(physical string, logical pathutil.RelPath) error {
	if logical.IsRoot() {
		return fmt.Errorf("cannot index file %s as the repository root", physical)
	}

	parent := logical.Parent()
	if err := w.repo.OpenFolder(parent); err != nil {
		return err
	}

	w.repo.OpenFile(logical)
	e, err := w.indexFile(physical, logical)
	if err != nil {
		return err
	}
	w.repo.SetFileEntry(logical, e)

	return w.repo.CloseFolder(parent)
}

func (w *Worker) syncDir(ctx context.Context, physical string, logical pathutil.RelPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.repo.OpenFolder(logical); err != nil {
		return err
	}

	children, err := os.ReadDir(physical)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", physical, err)
	}
	inRepo := w.repo.IsRepoDir(physical, logical)

	var visited []pathutil.RelPath
	for _, child := range children {
		name := child.Name()
		if inRepo && repo.IsReserved(logical, name) {
			continue
		}

		cp := logical.Join(name)
		if skip, mode := w.skipped(cp); skip {
			w.logger.Debug("skipping path", "path", cp.String(), "mode", mode.String())
			continue
		}

		childPath := filepath.Join(physical, name)
		typ, err := resolveType(childPath, child)
		if err != nil {
			return err
		}

		switch {
		case typ.IsRegular():
			w.repo.OpenFile(cp)
			e, err := w.indexFile(childPath, cp)
			if err != nil {
				return err
			}
			w.repo.SetFileEntry(cp, e)

		case typ.IsDir():
			if err := w.repo.OpenFolder(cp); err != nil {
				return err
			}
			visited = append(visited, cp)
			if err := w.syncDir(ctx, childPath, cp); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedType, childPath)
		}
	}

	if err := w.repo.PruneUnopenedEntries(logical); err != nil {
		return err
	}

	for _, cp := range visited {
		if err := w.repo.CloseFolder(cp); err != nil {
			return err
		}
	}

	if err := w.repo.ExportFolderIndex(logical, false); err != nil {
		return err
	}
	return w.repo.CloseFolder(logical)
}

// resolveType follows symlinks so that links to files and directories are
// indexed like their targets
func resolveType(path string, d fs.DirEntry) (fs.FileMode, error) {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Mode().Type(), nil
}
