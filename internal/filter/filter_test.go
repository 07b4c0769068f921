package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default().DefaultConfig()

	assert.Equal(t, entry.ModePlain, cfg.Mode)
	assert.Equal(t, 1, cfg.Standalone)
	assert.True(t, cfg.Saves("size"))
	assert.True(t, cfg.Saves("mtime"))
	assert.False(t, cfg.Saves("mtime_ns"))
	assert.True(t, cfg.Saves("sha256"))
	for _, name := range []string{"crc32", "md5", "sha1", "sha512", "blake3", "xxh64"} {
		assert.False(t, cfg.Saves(name), name)
	}
	assert.Equal(t, time.Local, cfg.Timezone)
}

func TestApply(t *testing.T) {
	c := Default()

	tests := []struct {
		name    string
		opts    map[string]any
		check   func(t *testing.T, cfg *entry.PathConfig)
		wantErr error
	}{
		{
			name: "save flags",
			opts: map[string]any{"save_sha256": false, "save_md5": true},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.False(t, cfg.Saves("sha256"))
				assert.True(t, cfg.Saves("md5"))
			},
		},
		{
			name: "standalone bool",
			opts: map[string]any{"standalone": false},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.Equal(t, 0, cfg.Standalone)
			},
		},
		{
			name: "standalone depth",
			opts: map[string]any{"standalone": int64(3)},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.Equal(t, 3, cfg.Standalone)
			},
		},
		{
			name: "bind",
			opts: map[string]any{"data": map[string]any{"bind": "media/photos"}},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.Equal(t, entry.ModeBind, cfg.Mode)
				assert.Equal(t, pathutil.RelPath("media/photos"), cfg.Target)
			},
		},
		{
			name: "ignore",
			opts: map[string]any{"data": map[string]any{"ignore": true}},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.Equal(t, entry.ModeIgnore, cfg.Mode)
			},
		},
		{
			name: "timezone",
			opts: map[string]any{"timezone": "Europe/Zurich"},
			check: func(t *testing.T, cfg *entry.PathConfig) {
				assert.Equal(t, "Europe/Zurich", cfg.Timezone.String())
			},
		},
		{name: "unknown key", opts: map[string]any{"save_crc64": true}, wantErr: ErrUnknownOption},
		{name: "bad save type", opts: map[string]any{"save_sha1": "yes"}, wantErr: ErrInvalidOption},
		{name: "negative standalone", opts: map[string]any{"standalone": int64(-1)}, wantErr: ErrInvalidOption},
		{name: "two data modes", opts: map[string]any{"data": map[string]any{"plain": true, "ignore": true}}, wantErr: ErrInvalidOption},
		{name: "absolute bind", opts: map[string]any{"data": map[string]any{"bind": "/abs"}}, wantErr: ErrInvalidOption},
		{name: "unknown data mode", opts: map[string]any{"data": map[string]any{"copy": "x"}}, wantErr: ErrUnknownOption},
		{name: "bad timezone", opts: map[string]any{"timezone": "Mars/Olympus"}, wantErr: ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := c.DefaultConfig()
			err := c.Apply(tt.opts, cfg)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestApplyDoesNotModifyOptions(t *testing.T) {
	opts := map[string]any{"save_md5": true}
	require.NoError(t, Default().Apply(opts, Default().DefaultConfig()))
	assert.Contains(t, opts, "save_md5")
}

func TestCalc(t *testing.T) {
	c := Default()
	parent := c.DefaultConfig()
	parent.Standalone = 2
	parent.SetBind("b")

	got := c.Calc(parent, "x/y/z")
	assert.Equal(t, 0, got.Standalone, "depth is floored at zero")
	assert.Equal(t, pathutil.RelPath("b/x/y/z"), got.Target)

	got = c.Calc(parent, "x")
	assert.Equal(t, 1, got.Standalone)
	assert.Equal(t, pathutil.RelPath("b"), parent.Target, "parent must not change")
}

func TestDumpConfigRoundTrip(t *testing.T) {
	c := Default()
	cfg := c.DefaultConfig()
	cfg.SetOverlay("base")
	cfg.Save["md5"] = true

	dumped := c.DumpConfig(cfg)
	assert.Equal(t, map[string]any{"overlay": "base"}, dumped["data"])

	loaded := c.DefaultConfig()
	require.NoError(t, c.Apply(dumped, loaded))
	assert.Equal(t, entry.ModeOverlay, loaded.Mode)
	assert.Equal(t, pathutil.RelPath("base"), loaded.Target)
	assert.True(t, loaded.Saves("md5"))
}

func statEntry(size uint64, mtime time.Time) *entry.FileEntry {
	e := entry.NewFileEntry()
	e.SetSize(size)
	e.SetMtime(mtime)
	e.SetMtimeNS(mtime.UnixNano())
	return e
}

func TestChanged(t *testing.T) {
	c := Default()
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	old := statEntry(2, mtime)

	assert.True(t, c.Changed(nil, old))
	assert.False(t, c.Changed(old, statEntry(2, mtime)))
	assert.True(t, c.Changed(old, statEntry(3, mtime)))
	assert.True(t, c.Changed(old, statEntry(2, mtime.Add(time.Nanosecond))))
}

func feedAll(parsers []Parser, data []byte) {
	for _, p := range parsers {
		p.Feed(data)
		p.Finish()
	}
}

func TestCRC32Format(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0x00000000"},
		{"a", "0xe8b7be43"},
		{"hello", "0x3610a686"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e := &entry.FileEntry{}
			p := NewCRC32Filter().ParseContent(e)
			p.Feed([]byte(tt.in))
			p.Finish()

			d, ok := e.Digest("crc32")
			require.True(t, ok)
			assert.Equal(t, tt.want, d)
			assert.Len(t, d, 10)
		})
	}
}

func TestPutIndex(t *testing.T) {
	c := Default()
	cfg := c.DefaultConfig()
	cfg.Save["crc32"] = true
	mtime := time.Unix(1700000000, 0)

	t.Run("new file needs content for every saved digest", func(t *testing.T) {
		out := statEntry(2, mtime)
		parsers := c.PutIndex(nil, true, cfg, out)
		assert.Len(t, parsers, 2)

		feedAll(parsers, []byte("hi"))
		sum := sha256.Sum256([]byte("hi"))
		d, _ := out.Digest("sha256")
		assert.Equal(t, hex.EncodeToString(sum[:]), d)
		d, _ = out.Digest("crc32")
		assert.Equal(t, fmt.Sprintf("0x%08x", crc32.ChecksumIEEE([]byte("hi"))), d)
		assert.Len(t, d, 10)
	})

	t.Run("unchanged file copies digests forward", func(t *testing.T) {
		old := statEntry(2, mtime)
		old.SetDigest("sha256", "aa")
		old.SetDigest("crc32", "0x00000001")

		out := statEntry(2, mtime)
		parsers := c.PutIndex(old, false, cfg, out)
		assert.Empty(t, parsers)
		d, _ := out.Digest("sha256")
		assert.Equal(t, "aa", d)
	})

	t.Run("missing digest is computed", func(t *testing.T) {
		old := statEntry(2, mtime)
		old.SetDigest("sha256", "aa")

		out := statEntry(2, mtime)
		parsers := c.PutIndex(old, false, cfg, out)
		assert.Len(t, parsers, 1, "only crc32 is missing")
	})

	t.Run("disabled digests are never computed", func(t *testing.T) {
		off := cfg.Clone()
		off.Save["sha256"] = false
		off.Save["crc32"] = false
		out := statEntry(2, mtime)
		assert.Empty(t, c.PutIndex(nil, true, off, out))
		assert.Empty(t, out.Digests)
	})
}

func TestIndexRoundTrip(t *testing.T) {
	c := Default()
	cfg := c.DefaultConfig()
	cfg.Save["mtime_ns"] = true
	cfg.Save["blake3"] = true
	cfg.Timezone = time.FixedZone("UTC+2", 2*3600)

	e := statEntry(42, time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC))
	e.SetDigest("sha256", "abc")
	e.SetDigest("blake3", "def")
	e.SetDigest("md5", "not saved")

	m := c.ExportToIndex(e, cfg)
	assert.NotContains(t, m, "md5")
	assert.Equal(t, cfg.Timezone, m["mtime"].(time.Time).Location())

	back, err := c.LoadFromIndex(m)
	require.NoError(t, err)

	want := e.Clone()
	delete(want.Digests, "md5")
	assert.True(t, want.Equal(back), "got %+v", back)
}

func TestIndexRejectsUnknownField(t *testing.T) {
	_, err := Default().LoadFromIndex(map[string]any{"sha3": "x"})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = Default().LoadFromIndex(map[string]any{"size": "big"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestFSCacheRoundTrip(t *testing.T) {
	c := Default()
	e := statEntry(1<<40, time.Date(2023, 12, 31, 23, 59, 59, 999999999, time.UTC))
	e.SetDigest("sha256", "ABCDEF")

	data, err := c.EncodeFSCache(e)
	require.NoError(t, err)

	back, err := c.DecodeFSCache(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), back.Size)
	assert.True(t, e.Mtime.Equal(back.Mtime))
	assert.Equal(t, e.MtimeNS, back.MtimeNS)
	d, _ := back.Digest("sha256")
	assert.Equal(t, "abcdef", d, "digests are normalized to lower case")
}
