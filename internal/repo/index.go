package repo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/store"
)

// loadIndex reads the whole index file of p, if any, into the file cache.
// Entries already cached are replaced and reported: the last file read wins.
func (r *Repository) loadIndex(p pathutil.RelPath) error {
	path := r.indexPath(p)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse index %s: %w", path, err)
	}

	for _, key := range slices.Sorted(maps.Keys(raw)) {
		tbl, ok := raw[key].(map[string]any)
		if !ok {
			return fmt.Errorf("index %s: entry %q is not a table", path, key)
		}
		rel, err := pathutil.Sanitize(key)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		if rel.IsRoot() {
			return fmt.Errorf("index %s: entry %q names the folder itself", path, key)
		}

		fp := p.JoinPath(rel)
		if r.config.Lookup(fp).Mode == entry.ModeIgnore {
			continue
		}

		e, err := r.chain.LoadFromIndex(tbl)
		if err != nil {
			return fmt.Errorf("index %s: entry %q: %w", path, key, err)
		}

		if f, ok := r.files[fp]; ok {
			r.logger.Warn("duplicate index entry, keeping the last one read", "path", fp.String(), "index", path)
			r.metrics.DuplicateEntry()
			f.entry = e
			continue
		}
		r.files[fp] = &cachedFile{entry: e}
	}

	r.logger.Debug("loaded index", "path", p.String(), "entries", len(raw))
	return nil
}

func (r *Repository) writeIndex(p pathutil.RelPath, data map[string]any) error {
	path := r.indexPath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	err := store.SafeDump(path, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(data)
	})
	if err != nil {
		return fmt.Errorf("failed to write index %s: %w", path, err)
	}

	r.metrics.IndexWritten()
	return nil
}

func (r *Repository) removeIndex(p pathutil.RelPath) error {
	path := r.indexPath(p)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove index %s: %w", path, err)
	}

	r.metrics.IndexRemoved()
	r.logger.Debug("removed empty index", "path", p.String())
	return nil
}
