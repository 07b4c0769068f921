package filter

import (
	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
)

const standaloneKey = "standalone"

// StandaloneFilter manages the standalone depth option.
// A bool is shorthand for depth 1 (true) or 0 (false).
type StandaloneFilter struct {
	Base
}

func NewStandaloneFilter() *StandaloneFilter {
	return &StandaloneFilter{}
}

func (f *StandaloneFilter) Name() string { return standaloneKey }

func (f *StandaloneFilter) LoadPathConfig(opts map[string]any, out *entry.PathConfig) error {
	v, ok := opts[standaloneKey]
	if !ok {
		return nil
	}
	switch b := v.(type) {
	case bool:
		out.Standalone = 0
		if b {
			out.Standalone = 1
		}
	default:
		n, ok := toInt64(v)
		if !ok || n < 0 {
			return optionError(standaloneKey, "should be a bool or a non-negative integer", v)
		}
		out.Standalone = int(n)
	}
	delete(opts, standaloneKey)
	return nil
}

func (f *StandaloneFilter) CalcRelativeConfig(parent *entry.PathConfig, suffix pathutil.RelPath, out *entry.PathConfig) {
	out.Standalone = max(parent.Standalone-suffix.Depth(), 0)
}

func (f *StandaloneFilter) MakeDefaultConfig(out *entry.PathConfig) {
	out.Standalone = 1
}

func (f *StandaloneFilter) DumpConfig(cfg *entry.PathConfig, out map[string]any) {
	out[standaloneKey] = int64(cfg.Standalone)
}
