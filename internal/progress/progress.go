// Package progress reports sync progress on an interactive terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Reporter receives one call per indexed file
type Reporter interface {
	Indexed(path string)
	Done()
}

// Mode selects when progress is shown
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// Nop discards progress
type Nop struct{}

func (Nop) Indexed(string) {}
func (Nop) Done()          {}

// New returns a reporter writing to w. In auto mode progress is only shown
// when w is a terminal.
func New(w io.Writer, mode Mode) Reporter {
	switch mode {
	case ModeNever:
		return Nop{}
	case ModeAuto:
		if !IsTerminal(w) {
			return Nop{}
		}
	}
	return &Line{w: w, interval: 100 * time.Millisecond}
}

// IsTerminal reports whether w is attached to a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Line rewrites a single status line at most once per interval
type Line struct {
	w        io.Writer
	interval time.Duration
	count    int
	last     time.Time
	now      func() time.Time
}

func (l *Line) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Line) Indexed(path string) {
	l.count++
	now := l.clock()
	if now.Sub(l.last) < l.interval {
		return
	}
	l.last = now
	_, _ = fmt.Fprintf(l.w, "\r\033[Kindexed %d files: %s", l.count, path)
}

func (l *Line) Done() {
	_, _ = fmt.Fprintf(l.w, "\r\033[Kindexed %d files\n", l.count)
}
