package progress

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rescale/cloudcmd/internal/constants"
)

// Bar prefixes
const (
	TransferPrefix = "TRANSFERRING ||"
	FetchPrefix    = "Fetching nodes ||"
)

// Notifier receives raw progress counters for a client. *events.EventBus
// implements it.
type Notifier interface {
	PublishProgress(clientID int, transferred, total int64, title string)
}

// Columns returns the terminal width behind w, or DefaultColumns when w is
// not a terminal.
func Columns(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return constants.DefaultColumns
}

// Percent returns transferred/total as a percentage clamped to [0,100].
// An unknown or zero total yields 0.
func Percent(transferred, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(transferred) / float64(total) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// renderBar lays out one line of exactly cols characters:
//
//	TRANSFERRING ||#######.........||(12/40 MB: 30.00 %)
//
// The glyph run covers percent of the space between prefix and counters.
func renderBar(prefix string, cols int, transferred, total int64, percent float64) string {
	counters := fmt.Sprintf("||(%d/%d MB: %.2f %%) ", transferred/1024/1024, total/1024/1024, percent)

	width := cols - len(prefix) - len(counters)
	if width < 0 {
		return prefix + counters
	}

	filled := int(float64(width) * percent / 100)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	var b strings.Builder
	b.Grow(cols)
	b.WriteString(prefix)
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat(".", width-filled))
	b.WriteString(counters)
	return b.String()
}

// barState holds the redraw-suppression state shared by the renderers.
type barState struct {
	percentShown float64
	drawn        bool
	finished     bool
}

// draw writes the bar for percent unless it would repeat the last frame.
// A 100% frame ends the line; nothing is drawn after it until reset.
func (s *barState) draw(out io.Writer, prefix string, cols int, transferred, total int64, percent float64, unit int64) bool {
	old := s.percentShown
	s.percentShown = percent
	if s.finished || (percent == old && old != 0) {
		return false
	}
	if unit < 0 {
		return false
	}
	if float64(transferred) < 0.001*float64(unit) {
		return false
	}

	line := renderBar(prefix, cols, transferred, total, percent)
	s.drawn = true
	if percent == 100 {
		s.finished = true
		fmt.Fprintln(out, line)
	} else {
		fmt.Fprint(out, line+"\r")
	}
	return true
}

// end terminates a bar that stopped short of 100%, so the line left behind
// by the last frame ends with a newline exactly once.
func (s *barState) end(out io.Writer) {
	if s.drawn && !s.finished {
		fmt.Fprintln(out)
	}
	s.finished = true
}
