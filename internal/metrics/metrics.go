// Package metrics counts what a sync run did.
//
// Counters live in a per-run registry. All methods are safe to call on a
// nil *Sync, which disables recording.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync holds the counters of one sync run
type Sync struct {
	reg *prometheus.Registry

	FilesScanned      prometheus.Counter
	FilesRehashed     prometheus.Counter
	FilesReused       prometheus.Counter
	ChunksRead        prometheus.Counter
	BytesHashed       prometheus.Counter
	FSCacheHits       prometheus.Counter
	FSCacheMisses     prometheus.Counter
	IndexFilesWritten prometheus.Counter
	IndexFilesRemoved prometheus.Counter
	DirectoriesPruned prometheus.Counter
	DuplicateEntries  prometheus.Counter
}

// New creates counters registered in a fresh registry
func New() *Sync {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: "rindex_" + name, Help: help})
	}

	return &Sync{
		reg:               reg,
		FilesScanned:      counter("files_scanned_total", "Files visited by the walk"),
		FilesRehashed:     counter("files_rehashed_total", "Files whose content was read"),
		FilesReused:       counter("files_reused_total", "Files whose metadata was carried forward without reading"),
		ChunksRead:        counter("chunks_read_total", "Content chunks read from disk"),
		BytesHashed:       counter("bytes_hashed_total", "Content bytes read from disk"),
		FSCacheHits:       counter("fscache_hits_total", "Files found in the inode cache"),
		FSCacheMisses:     counter("fscache_misses_total", "Files missing from the inode cache"),
		IndexFilesWritten: counter("index_files_written_total", "Index files flushed"),
		IndexFilesRemoved: counter("index_files_removed_total", "Index files deleted because they became empty"),
		DirectoriesPruned: counter("directories_pruned_total", "Stale directories removed from the repository"),
		DuplicateEntries:  counter("duplicate_entries_total", "Entries declared by more than one index file"),
	}
}

// Registry exposes the underlying registry
func (s *Sync) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.reg
}

// WriteTextfile writes the counters in the node exporter textfile format.
// The file is replaced atomically.
func (s *Sync) WriteTextfile(path string) error {
	if s == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, s.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func (s *Sync) FileScanned() {
	if s != nil {
		s.FilesScanned.Inc()
	}
}

func (s *Sync) FileRehashed() {
	if s != nil {
		s.FilesRehashed.Inc()
	}
}

func (s *Sync) FileReused() {
	if s != nil {
		s.FilesReused.Inc()
	}
}

// ChunkRead records one chunk of n bytes
func (s *Sync) ChunkRead(n int) {
	if s == nil {
		return
	}
	s.ChunksRead.Inc()
	s.BytesHashed.Add(float64(n))
}

func (s *Sync) FSCacheHit() {
	if s != nil {
		s.FSCacheHits.Inc()
	}
}

func (s *Sync) FSCacheMiss() {
	if s != nil {
		s.FSCacheMisses.Inc()
	}
}

func (s *Sync) IndexWritten() {
	if s != nil {
		s.IndexFilesWritten.Inc()
	}
}

func (s *Sync) IndexRemoved() {
	if s != nil {
		s.IndexFilesRemoved.Inc()
	}
}

func (s *Sync) DirectoryPruned() {
	if s != nil {
		s.DirectoriesPruned.Inc()
	}
}

func (s *Sync) DuplicateEntry() {
	if s != nil {
		s.DuplicateEntries.Inc()
	}
}
