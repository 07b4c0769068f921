package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
)

const dataKey = "data"

// Chain runs a fixed list of filters in registration order.
// Every parser sees content chunks in that order too.
type Chain struct {
	filters []Filter
}

// NewChain creates a chain from the given filters
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Default returns the chain of every built-in filter
func Default() *Chain {
	return NewChain(
		NewSizeFilter(),
		NewModtimeFilter(),
		NewModtimeNSFilter(),
		NewStandaloneFilter(),
		NewCRC32Filter(),
		NewMD5Filter(),
		NewSHA1Filter(),
		NewSHA256Filter(),
		NewSHA512Filter(),
		NewBLAKE3Filter(),
		NewXXH64Filter(),
	)
}

// Filters returns the registered filters in order
func (c *Chain) Filters() []Filter {
	return c.filters
}

// DefaultConfig builds the root configuration from every filter's defaults
func (c *Chain) DefaultConfig() *entry.PathConfig {
	cfg := entry.NewPathConfig()
	cfg.SetPlain()
	for _, f := range c.filters {
		f.MakeDefaultConfig(cfg)
	}
	return cfg
}

// Calc derives the config of parent/suffix from parent's config
func (c *Chain) Calc(parent *entry.PathConfig, suffix pathutil.RelPath) *entry.PathConfig {
	out := parent.Clone()
	if out.Aliased() {
		out.Target = out.Target.JoinPath(suffix)
	}
	for _, f := range c.filters {
		f.CalcRelativeConfig(parent, suffix, out)
	}
	return out
}

// Apply merges a raw option table into out. opts is not modified.
func (c *Chain) Apply(opts map[string]any, out *entry.PathConfig) error {
	work := maps.Clone(opts)
	if work == nil {
		work = map[string]any{}
	}
	if v, ok := work[dataKey]; ok {
		if err := applyData(v, out); err != nil {
			return err
		}
		delete(work, dataKey)
	}
	for _, f := range c.filters {
		if err := f.LoadPathConfig(work, out); err != nil {
			return err
		}
	}
	if len(work) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(sortedKeys(work), ", "))
	}
	return nil
}

func applyData(v any, out *entry.PathConfig) error {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return fmt.Errorf("%w: option %q must contain exactly one of plain, bind, overlay, ignore", ErrInvalidOption, dataKey)
	}
	for mode, val := range m {
		switch mode {
		case "plain", "ignore":
			if b, ok := val.(bool); !ok || !b {
				return optionError(dataKey+"."+mode, "should be true", val)
			}
			if mode == "plain" {
				out.SetPlain()
			} else {
				out.SetIgnore()
			}
		case "bind", "overlay":
			s, ok := val.(string)
			if !ok {
				return optionError(dataKey+"."+mode, "should be a path", val)
			}
			target, err := pathutil.Sanitize(s)
			if err != nil {
				return fmt.Errorf("%w: option %q: %w", ErrInvalidOption, dataKey+"."+mode, err)
			}
			if mode == "bind" {
				out.SetBind(target)
			} else {
				out.SetOverlay(target)
			}
		default:
			return fmt.Errorf("%w: %s.%s", ErrUnknownOption, dataKey, mode)
		}
	}
	return nil
}

// DumpConfig renders cfg as an option table that Apply accepts
func (c *Chain) DumpConfig(cfg *entry.PathConfig) map[string]any {
	out := make(map[string]any)
	switch cfg.Mode {
	case entry.ModeBind, entry.ModeOverlay:
		out[dataKey] = map[string]any{cfg.Mode.String(): string(cfg.Target)}
	default:
		out[dataKey] = map[string]any{cfg.Mode.String(): true}
	}
	for _, f := range c.filters {
		f.DumpConfig(cfg, out)
	}
	return out
}

// Changed ORs every filter's staleness check. A missing old entry is always stale.
func (c *Chain) Changed(old, cur *entry.FileEntry) bool {
	if old == nil {
		return true
	}
	changed := false
	for _, f := range c.filters {
		if f.FileChanged(old, cur) {
			changed = true
		}
	}
	return changed
}

// PutIndex lets every filter carry its field forward into out and returns
// parsers for the filters that need the file content
func (c *Chain) PutIndex(old *entry.FileEntry, changed bool, cfg *entry.PathConfig, out *entry.FileEntry) []Parser {
	var parsers []Parser
	for _, f := range c.filters {
		if f.PutIndex(old, changed, cfg, out) {
			parsers = append(parsers, f.ParseContent(out))
		}
	}
	return parsers
}

// ExportToIndex renders the fields of e that cfg saves
func (c *Chain) ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig) map[string]any {
	out := make(map[string]any)
	for _, f := range c.filters {
		f.ExportToIndex(e, cfg, out)
	}
	return out
}

// LoadFromIndex parses one index record
func (c *Chain) LoadFromIndex(m map[string]any) (*entry.FileEntry, error) {
	work := maps.Clone(m)
	out := entry.NewFileEntry()
	for _, f := range c.filters {
		if err := f.LoadFromIndex(work, out); err != nil {
			return nil, err
		}
	}
	if len(work) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(sortedKeys(work), ", "))
	}
	return out, nil
}

// EncodeFSCache serializes the content fields of e as JSON
func (c *Chain) EncodeFSCache(e *entry.FileEntry) ([]byte, error) {
	out := make(map[string]any)
	for _, f := range c.filters {
		f.ExportToFSCache(e, out)
	}
	return json.Marshal(out)
}

// DecodeFSCache parses a value written by EncodeFSCache
func (c *Chain) DecodeFSCache(data []byte) (*entry.FileEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode fscache value: %w", err)
	}
	out := entry.NewFileEntry()
	for _, f := range c.filters {
		if err := f.LoadFromFSCache(m, out); err != nil {
			return nil, err
		}
	}
	if len(m) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(sortedKeys(m), ", "))
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
