package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/cloudcmd/internal/constants"
)

// Board manages concurrent progress bars for the interactive shell using
// mpb. Every distinct notification title gets its own bar.
type Board struct {
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*boardBar
}

type boardBar struct {
	bar        *mpb.Bar
	total      int64
	lastUpdate time.Time
	lastBytes  int64
}

// NewBoard creates a board drawing on out.
func NewBoard(out *os.File) *Board {
	enableANSI(out)
	return newBoard(out)
}

func newBoard(out io.Writer) *Board {
	return &Board{
		progress: mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressUpdateInterval),
			mpb.WithWidth(100),
		),
		bars: make(map[string]*boardBar),
	}
}

func (b *Board) add(title string, total int64) *boardBar {
	label := title
	if label == "" {
		label = "TRANSFERRING"
	}
	bb := &boardBar{total: total, lastUpdate: time.Now()}
	bb.bar = b.progress.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				return fmt.Sprintf("%6.2f%%", Percent(s.Current, s.Total))
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	b.bars[title] = bb
	return bb
}

func (b *Board) Update(transferred, total int64, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bb, ok := b.bars[title]
	if !ok {
		bb = b.add(title, total)
	}
	if bb.total != total {
		bb.total = total
		bb.bar.SetTotal(total, false)
	}

	now := time.Now()
	if delta := transferred - bb.lastBytes; delta >= 0 {
		bb.bar.EwmaIncrBy(int(delta), now.Sub(bb.lastUpdate))
	} else {
		// retried from scratch
		bb.bar.SetCurrent(transferred)
	}
	bb.lastBytes = transferred
	bb.lastUpdate = now
}

func (b *Board) Complete(total int64, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bb, ok := b.bars[title]
	if !ok {
		return
	}
	delete(b.bars, title)
	bb.bar.SetCurrent(total)
	bb.bar.SetTotal(total, true)
}

// Writer returns an io.Writer that prints above the bars.
func (b *Board) Writer() io.Writer {
	return b.progress
}

// Close aborts unfinished bars and waits for the board to stop drawing.
func (b *Board) Close() {
	b.mu.Lock()
	for title, bb := range b.bars {
		bb.bar.Abort(true)
		delete(b.bars, title)
	}
	b.mu.Unlock()
	b.progress.Wait()
}

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
