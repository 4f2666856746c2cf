// Package observe produces the human-oriented trace log of proxied traffic:
// one timestamped, labeled line per event plus a separate live stream of
// extracted model text. Nothing in this package can fail a forward; every
// parse boundary degrades to a coarser log line or to silence.
package observe

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/labstack/gommon/color"
	"github.com/mattn/go-isatty"
)

// tone selects the label color for a trace line.
type tone int

const (
	toneCyan tone = iota
	toneGreen
	toneYellow
	toneRed
	toneDim
)

// traceLog writes trace lines in the form
//
//	HH:MM:SS.mmm      LABEL  message
//
// with the timestamp dimmed and the 10-character right-aligned label
// colorized by tone. Colors degrade to plain text automatically when the
// writer is not a terminal. Each line is a single Write so lines from
// concurrent requests interleave whole, never mid-line.
type traceLog struct {
	mu    sync.Mutex
	out   io.Writer
	color *color.Color
	now   func() time.Time
}

func newTraceLog(w io.Writer) *traceLog {
	c := color.New()
	c.SetOutput(w)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		c.Enable()
	} else {
		c.Disable()
	}
	return &traceLog{out: w, color: c, now: time.Now}
}

func (t *traceLog) event(tn tone, label, msg string) {
	ts := t.now().Format("15:04:05.000")

	var paint func(msg interface{}, styles ...string) string
	switch tn {
	case toneGreen:
		paint = t.color.Green
	case toneYellow:
		paint = t.color.Yellow
	case toneRed:
		paint = t.color.Red
	case toneDim:
		paint = t.color.Dim
	default:
		paint = t.color.Cyan
	}

	// Pad before painting; ANSI escapes would defeat %10s.
	line := fmt.Sprintf("%s %s  %s\n", t.color.Dim(ts), paint(fmt.Sprintf("%10s", label)), msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, line)
}
