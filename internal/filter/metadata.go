package filter

import (
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/schaermu/rindex/internal/entry"
)

// SizeFilter records the file size in bytes
type SizeFilter struct {
	Base
	opt saveOption
}

func NewSizeFilter() *SizeFilter {
	return &SizeFilter{opt: saveOption{name: "size", def: true}}
}

func (f *SizeFilter) Name() string { return "size" }

func (f *SizeFilter) LoadPathConfig(opts map[string]any, out *entry.PathConfig) error {
	return f.opt.load(opts, out)
}

func (f *SizeFilter) MakeDefaultConfig(out *entry.PathConfig) { f.opt.makeDefault(out) }

func (f *SizeFilter) DumpConfig(cfg *entry.PathConfig, out map[string]any) { f.opt.dump(cfg, out) }

func (f *SizeFilter) FileChanged(old, cur *entry.FileEntry) bool {
	return !old.Has(entry.FieldSize) || old.Size != cur.Size
}

func (f *SizeFilter) ExportToFSCache(e *entry.FileEntry, out map[string]any) {
	if e.Has(entry.FieldSize) {
		out["size"] = int64(e.Size)
	}
}

func (f *SizeFilter) LoadFromFSCache(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *SizeFilter) ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig, out map[string]any) {
	if cfg.Saves("size") {
		f.ExportToFSCache(e, out)
	}
}

func (f *SizeFilter) LoadFromIndex(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *SizeFilter) load(m map[string]any, out *entry.FileEntry) error {
	v, ok := m["size"]
	if !ok {
		return nil
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return fieldError("size", "should be a non-negative integer", v)
	}
	out.SetSize(uint64(n))
	delete(m, "size")
	return nil
}

// ModtimeFilter records the modification time. The index representation
// is converted to the path's configured timezone.
type ModtimeFilter struct {
	Base
	opt saveOption
}

const timezoneKey = "timezone"

func NewModtimeFilter() *ModtimeFilter {
	return &ModtimeFilter{opt: saveOption{name: "mtime", def: true}}
}

func (f *ModtimeFilter) Name() string { return "mtime" }

func (f *ModtimeFilter) LoadPathConfig(opts map[string]any, out *entry.PathConfig) error {
	if err := f.opt.load(opts, out); err != nil {
		return err
	}
	v, ok := opts[timezoneKey]
	if !ok {
		return nil
	}
	name, ok := v.(string)
	if !ok {
		return optionError(timezoneKey, "should be a string", v)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return optionError(timezoneKey, "should name a known time zone ("+err.Error()+")", v)
	}
	out.Timezone = loc
	delete(opts, timezoneKey)
	return nil
}

func (f *ModtimeFilter) MakeDefaultConfig(out *entry.PathConfig) {
	f.opt.makeDefault(out)
	out.Timezone = time.Local
}

func (f *ModtimeFilter) DumpConfig(cfg *entry.PathConfig, out map[string]any) {
	f.opt.dump(cfg, out)
	if cfg.Timezone != nil {
		out[timezoneKey] = cfg.Timezone.String()
	}
}

func (f *ModtimeFilter) FileChanged(old, cur *entry.FileEntry) bool {
	return !old.Has(entry.FieldMtime) || !old.Mtime.Equal(cur.Mtime)
}

func (f *ModtimeFilter) ExportToFSCache(e *entry.FileEntry, out map[string]any) {
	if e.Has(entry.FieldMtime) {
		out["mtime"] = e.Mtime.Format(time.RFC3339Nano)
	}
}

func (f *ModtimeFilter) LoadFromFSCache(m map[string]any, out *entry.FileEntry) error {
	v, ok := m["mtime"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fieldError("mtime", "should be a string", v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fieldError("mtime", "should be an RFC 3339 timestamp", v)
	}
	out.SetMtime(t)
	delete(m, "mtime")
	return nil
}

func (f *ModtimeFilter) ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig, out map[string]any) {
	if !cfg.Saves("mtime") || !e.Has(entry.FieldMtime) {
		return
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	out["mtime"] = e.Mtime.In(tz)
}

func (f *ModtimeFilter) LoadFromIndex(m map[string]any, out *entry.FileEntry) error {
	v, ok := m["mtime"]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		out.SetMtime(t)
	case toml.LocalDateTime:
		out.SetMtime(t.AsTime(time.UTC))
	default:
		return fieldError("mtime", "should be a datetime", v)
	}
	delete(m, "mtime")
	return nil
}

// ModtimeNSFilter records the modification time as integer nanoseconds.
// It never invalidates content by itself; ModtimeFilter already does.
type ModtimeNSFilter struct {
	Base
	opt saveOption
}

func NewModtimeNSFilter() *ModtimeNSFilter {
	return &ModtimeNSFilter{opt: saveOption{name: "mtime_ns", def: false}}
}

func (f *ModtimeNSFilter) Name() string { return "mtime_ns" }

func (f *ModtimeNSFilter) LoadPathConfig(opts map[string]any, out *entry.PathConfig) error {
	return f.opt.load(opts, out)
}

func (f *ModtimeNSFilter) MakeDefaultConfig(out *entry.PathConfig) { f.opt.makeDefault(out) }

func (f *ModtimeNSFilter) DumpConfig(cfg *entry.PathConfig, out map[string]any) {
	f.opt.dump(cfg, out)
}

func (f *ModtimeNSFilter) ExportToFSCache(e *entry.FileEntry, out map[string]any) {
	if e.Has(entry.FieldMtimeNS) {
		out["mtime_ns"] = e.MtimeNS
	}
}

func (f *ModtimeNSFilter) LoadFromFSCache(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *ModtimeNSFilter) ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig, out map[string]any) {
	if cfg.Saves("mtime_ns") {
		f.ExportToFSCache(e, out)
	}
}

func (f *ModtimeNSFilter) LoadFromIndex(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *ModtimeNSFilter) load(m map[string]any, out *entry.FileEntry) error {
	v, ok := m["mtime_ns"]
	if !ok {
		return nil
	}
	n, ok := toInt64(v)
	if !ok {
		return fieldError("mtime_ns", "should be an integer", v)
	}
	out.SetMtimeNS(n)
	delete(m, "mtime_ns")
	return nil
}
