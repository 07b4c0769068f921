// Package filter implements the pluggable metadata pipeline.
//
// Each Filter owns one field of a FileEntry (or one option of a
// PathConfig) and knows how to configure, compare, compute and serialize
// it. Filters are combined in a Chain which fixes their order.
package filter

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
)

var (
	// ErrUnknownOption is returned for option keys no filter recognizes
	ErrUnknownOption = errors.New("unrecognized option")
	// ErrInvalidOption is returned for option values of the wrong type or range
	ErrInvalidOption = errors.New("invalid option value")
	// ErrUnknownField is returned for cache or index keys no filter recognizes
	ErrUnknownField = errors.New("unrecognized field")
	// ErrInvalidField is returned for cache or index values of the wrong type
	ErrInvalidField = errors.New("invalid field value")
)

// Parser consumes a file's content chunk by chunk.
// Feed returns true once the parser needs no more data. Finish is called
// exactly once, after the last chunk or as soon as Feed returned true, and
// writes the result into the entry the parser was created for.
type Parser interface {
	Feed(chunk []byte) bool
	Finish()
}

// Filter is one metadata capability.
//
// Load* methods must delete the keys they consume so the chain can reject
// anything left over.
type Filter interface {
	Name() string

	LoadPathConfig(opts map[string]any, out *entry.PathConfig) error
	CalcRelativeConfig(parent *entry.PathConfig, suffix pathutil.RelPath, out *entry.PathConfig)
	MakeDefaultConfig(out *entry.PathConfig)
	DumpConfig(cfg *entry.PathConfig, out map[string]any)

	// FileChanged reports whether this filter's own field shows that
	// content-derived fields of old are stale.
	FileChanged(old, cur *entry.FileEntry) bool
	// PutIndex fills this filter's field of out, copying it from old when
	// possible. It returns true when the content must be parsed instead.
	PutIndex(old *entry.FileEntry, changed bool, cfg *entry.PathConfig, out *entry.FileEntry) bool
	ParseContent(out *entry.FileEntry) Parser

	ExportToFSCache(e *entry.FileEntry, out map[string]any)
	LoadFromFSCache(m map[string]any, out *entry.FileEntry) error
	ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig, out map[string]any)
	LoadFromIndex(m map[string]any, out *entry.FileEntry) error
}

// Base provides no-op implementations for every Filter method except Name.
// Configuration is inherited unchanged since Chain.Calc starts from a clone
// of the parent config.
type Base struct{}

func (Base) LoadPathConfig(map[string]any, *entry.PathConfig) error { return nil }

func (Base) CalcRelativeConfig(*entry.PathConfig, pathutil.RelPath, *entry.PathConfig) {}

func (Base) MakeDefaultConfig(*entry.PathConfig) {}

func (Base) DumpConfig(*entry.PathConfig, map[string]any) {}

func (Base) FileChanged(_, _ *entry.FileEntry) bool { return false }

func (Base) PutIndex(*entry.FileEntry, bool, *entry.PathConfig, *entry.FileEntry) bool {
	return false
}

func (Base) ParseContent(*entry.FileEntry) Parser { return nil }

func (Base) ExportToFSCache(*entry.FileEntry, map[string]any) {}

func (Base) LoadFromFSCache(map[string]any, *entry.FileEntry) error { return nil }

func (Base) ExportToIndex(*entry.FileEntry, *entry.PathConfig, map[string]any) {}

func (Base) LoadFromIndex(map[string]any, *entry.FileEntry) error { return nil }

// saveOption handles the boolean save_<name> option shared by every
// metadata filter
type saveOption struct {
	name string
	def  bool
}

func (s saveOption) key() string {
	return "save_" + s.name
}

func (s saveOption) load(opts map[string]any, out *entry.PathConfig) error {
	v, ok := opts[s.key()]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return optionError(s.key(), "should be a bool", v)
	}
	out.Save[s.name] = b
	delete(opts, s.key())
	return nil
}

func (s saveOption) makeDefault(out *entry.PathConfig) {
	out.Save[s.name] = s.def
}

func (s saveOption) dump(cfg *entry.PathConfig, out map[string]any) {
	out[s.key()] = cfg.Saves(s.name)
}

// toInt64 accepts the integer representations produced by the TOML and
// JSON decoders
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
