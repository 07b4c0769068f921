package filter

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"

	"github.com/schaermu/rindex/internal/entry"
)

// HashFilter computes one content digest. Digests are only computed and
// stored for paths whose config enables save_<name>.
type HashFilter struct {
	Base
	name    string
	opt     saveOption
	newHash func() hash.Hash
	format  func(sum []byte) string
}

// NewHashFilter creates a digest filter rendering sums as lower-case hex
func NewHashFilter(name string, newHash func() hash.Hash, saveByDefault bool) *HashFilter {
	return &HashFilter{
		name:    name,
		opt:     saveOption{name: name, def: saveByDefault},
		newHash: newHash,
		format:  hex.EncodeToString,
	}
}

// NewCRC32Filter creates the IEEE CRC-32 filter, rendered as 0x plus 8 hex digits
func NewCRC32Filter() *HashFilter {
	f := NewHashFilter("crc32", func() hash.Hash { return crc32.NewIEEE() }, false)
	f.format = func(sum []byte) string {
		return fmt.Sprintf("0x%08x", binary.BigEndian.Uint32(sum))
	}
	return f
}

func NewMD5Filter() *HashFilter    { return NewHashFilter("md5", md5.New, false) }
func NewSHA1Filter() *HashFilter   { return NewHashFilter("sha1", sha1.New, false) }
func NewSHA256Filter() *HashFilter { return NewHashFilter("sha256", sha256.New, true) }
func NewSHA512Filter() *HashFilter { return NewHashFilter("sha512", sha512.New, false) }

func NewBLAKE3Filter() *HashFilter {
	return NewHashFilter("blake3", func() hash.Hash { return blake3.New() }, false)
}

func NewXXH64Filter() *HashFilter {
	return NewHashFilter("xxh64", func() hash.Hash { return xxhash.New() }, false)
}

func (f *HashFilter) Name() string { return f.name }

func (f *HashFilter) LoadPathConfig(opts map[string]any, out *entry.PathConfig) error {
	return f.opt.load(opts, out)
}

func (f *HashFilter) MakeDefaultConfig(out *entry.PathConfig) { f.opt.makeDefault(out) }

func (f *HashFilter) DumpConfig(cfg *entry.PathConfig, out map[string]any) { f.opt.dump(cfg, out) }

func (f *HashFilter) PutIndex(old *entry.FileEntry, changed bool, cfg *entry.PathConfig, out *entry.FileEntry) bool {
	if !cfg.Saves(f.name) {
		return false
	}
	if changed || old == nil {
		return true
	}
	d, ok := old.Digest(f.name)
	if !ok {
		return true
	}
	out.SetDigest(f.name, d)
	return false
}

func (f *HashFilter) ParseContent(out *entry.FileEntry) Parser {
	return &hashParser{filter: f, h: f.newHash(), out: out}
}

func (f *HashFilter) ExportToFSCache(e *entry.FileEntry, out map[string]any) {
	if d, ok := e.Digest(f.name); ok {
		out[f.name] = d
	}
}

func (f *HashFilter) LoadFromFSCache(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *HashFilter) ExportToIndex(e *entry.FileEntry, cfg *entry.PathConfig, out map[string]any) {
	if cfg.Saves(f.name) {
		f.ExportToFSCache(e, out)
	}
}

func (f *HashFilter) LoadFromIndex(m map[string]any, out *entry.FileEntry) error {
	return f.load(m, out)
}

func (f *HashFilter) load(m map[string]any, out *entry.FileEntry) error {
	v, ok := m[f.name]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fieldError(f.name, "should be a string", v)
	}
	out.SetDigest(f.name, strings.ToLower(s))
	delete(m, f.name)
	return nil
}

type hashParser struct {
	filter *HashFilter
	h      hash.Hash
	out    *entry.FileEntry
}

func (p *hashParser) Feed(chunk []byte) bool {
	// hash.Hash.Write never returns an error
	_, _ = p.h.Write(chunk)
	return false
}

func (p *hashParser) Finish() {
	p.out.SetDigest(p.filter.name, p.filter.format(p.h.Sum(nil)))
}
