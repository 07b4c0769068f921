// Package entry holds the data model shared by the filter chain and the repository:
// per-path policy, per-file metadata and open-directory markers.
package entry

import (
	"fmt"
	"time"

	"github.com/schaermu/rindex/internal/pathutil"
)

// DataMode selects how a path's content is represented
type DataMode int

const (
	ModePlain DataMode = iota
	ModeBind
	ModeOverlay
	ModeIgnore
)

// String returns the name used in the "data" option
func (m DataMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeBind:
		return "bind"
	case ModeOverlay:
		return "overlay"
	case ModeIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("DataMode(%d)", int(m))
	}
}

// PathConfig is the effective policy for one path
type PathConfig struct {
	// Mode and Target form a tagged union; Target is only meaningful for
	// ModeBind and ModeOverlay. Use the Set* methods to switch modes.
	Mode   DataMode
	Target pathutil.RelPath

	// Standalone counts how many path levels below here keep their own
	// index file. 0 merges into the nearest ancestor's index.
	Standalone int

	// Save holds the per-filter save_<name> flags
	Save map[string]bool

	// Timezone used when exporting mtime. nil means UTC.
	Timezone *time.Location
}

// NewPathConfig returns a plain config with no options set
func NewPathConfig() *PathConfig {
	return &PathConfig{Save: make(map[string]bool)}
}

// Clone returns a deep copy
func (c *PathConfig) Clone() *PathConfig {
	out := *c
	out.Save = make(map[string]bool, len(c.Save))
	for k, v := range c.Save {
		out.Save[k] = v
	}
	return &out
}

func (c *PathConfig) SetPlain() {
	c.Mode, c.Target = ModePlain, pathutil.Root
}

func (c *PathConfig) SetBind(target pathutil.RelPath) {
	c.Mode, c.Target = ModeBind, target
}

func (c *PathConfig) SetOverlay(target pathutil.RelPath) {
	c.Mode, c.Target = ModeOverlay, target
}

func (c *PathConfig) SetIgnore() {
	c.Mode, c.Target = ModeIgnore, pathutil.Root
}

// Aliased reports whether the path takes its identity from another path
func (c *PathConfig) Aliased() bool {
	return c.Mode == ModeBind || c.Mode == ModeOverlay
}

// Saves reports whether the named field is persisted to the index
func (c *PathConfig) Saves(name string) bool {
	return c.Save[name]
}

// DirEntry marks an open directory
type DirEntry struct {
	RefCount int
	// Exported is set once the directory went through an index export this session
	Exported bool
	// Flushed is set when that export actually wrote an index file
	Flushed bool
}
