package entry

import (
	"maps"
	"time"
)

// Field flags record which scalar fields of a FileEntry are present
type Field uint8

const (
	FieldSize Field = 1 << iota
	FieldMtime
	FieldMtimeNS
)

// FileEntry is the metadata recorded for one file.
// Digests are keyed by filter name and hold lower-case hex.
type FileEntry struct {
	Size    uint64
	Mtime   time.Time
	MtimeNS int64
	Digests map[string]string

	has Field
}

// NewFileEntry returns an entry with no fields set
func NewFileEntry() *FileEntry {
	return &FileEntry{Digests: make(map[string]string)}
}

// Has reports whether the field was set
func (e *FileEntry) Has(f Field) bool {
	return e.has&f != 0
}

func (e *FileEntry) SetSize(n uint64) {
	e.Size = n
	e.has |= FieldSize
}

func (e *FileEntry) SetMtime(t time.Time) {
	e.Mtime = t.UTC()
	e.has |= FieldMtime
}

func (e *FileEntry) SetMtimeNS(ns int64) {
	e.MtimeNS = ns
	e.has |= FieldMtimeNS
}

// Digest returns the stored digest for a filter
func (e *FileEntry) Digest(name string) (string, bool) {
	d, ok := e.Digests[name]
	return d, ok
}

func (e *FileEntry) SetDigest(name, hex string) {
	if e.Digests == nil {
		e.Digests = make(map[string]string)
	}
	e.Digests[name] = hex
}

// Clone returns a deep copy
func (e *FileEntry) Clone() *FileEntry {
	out := *e
	out.Digests = maps.Clone(e.Digests)
	if out.Digests == nil {
		out.Digests = make(map[string]string)
	}
	return &out
}

// Equal compares present fields and digests
func (e *FileEntry) Equal(o *FileEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.has != o.has {
		return false
	}
	if e.Has(FieldSize) && e.Size != o.Size {
		return false
	}
	if e.Has(FieldMtime) && !e.Mtime.Equal(o.Mtime) {
		return false
	}
	if e.Has(FieldMtimeNS) && e.MtimeNS != o.MtimeNS {
		return false
	}
	return maps.Equal(e.Digests, o.Digests)
}
