package sync

import (
	"errors"
	"fmt"
	"io"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/fscache"
	"github.com/schaermu/rindex/internal/pathutil"
)

// indexFile computes the entry of one file. Content is read only for
// filters that cannot carry their field forward from the fscache, and then
// in a single pass shared by all of them.
func (w *Worker) indexFile(physical string, logical pathutil.RelPath) (*entry.FileEntry, error) {
	st, err := statFile(physical)
	if err != nil {
		return nil, err
	}
	w.metrics.FileScanned()

	cur := entry.NewFileEntry()
	cur.SetSize(uint64(st.size))
	cur.SetMtime(st.mtime)
	cur.SetMtimeNS(st.mtime.UnixNano())

	var key string
	var old *entry.FileEntry
	if st.hasInode {
		key = fscache.Key(st.dev, st.ino)
		if old, err = w.loadCached(key); err != nil {
			return nil, err
		}
	}

	changed := w.chain.Changed(old, cur)
	cfg := w.config.Lookup(logical)
	parsers := w.chain.PutIndex(old, changed, cfg, cur)

	if len(parsers) > 0 {
		w.logger.Debug("reading file content", "path", logical.String(), "parsers", len(parsers), "changed", changed)
		if err := w.readContent(physical, parsers); err != nil {
			return nil, err
		}
		w.metrics.FileRehashed()
	} else {
		w.metrics.FileReused()
	}

	if key != "" {
		data, err := w.chain.EncodeFSCache(cur)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fscache entry for %s: %w", physical, err)
		}
		if err := w.cache.Set(key, data); err != nil {
			return nil, err
		}
	}

	w.progress.Indexed(logical.String())
	return cur, nil
}

// loadCached returns the previous entry for key. Values that no longer
// decode are treated as missing.
func (w *Worker) loadCached(key string) (*entry.FileEntry, error) {
	data, ok, err := w.cache.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		w.metrics.FSCacheMiss()
		return nil, nil
	}

	old, err := w.chain.DecodeFSCache(data)
	if err != nil {
		w.logger.Warn("discarding unreadable fscache entry", "key", key, "error", err)
		w.metrics.FSCacheMiss()
		return nil, nil
	}
	w.metrics.FSCacheHit()
	return old, nil
}

// readContent reads the file once in ChunkSize blocks and hands every
// block to each parser that still wants data, in chain order
func (w *Worker) readContent(path string, parsers []filter.Parser) error {
	f, err := w.open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	active := parsers
	buf := make([]byte, ChunkSize)
	for len(active) > 0 {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			w.metrics.ChunkRead(n)
			next := active[:0]
			for _, p := range active {
				if p.Feed(buf[:n]) {
					p.Finish()
					continue
				}
				next = append(next, p)
			}
			active = next
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	for _, p := range active {
		p.Finish()
	}
	return nil
}
