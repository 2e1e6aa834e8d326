package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter draws progress notifications on the client side.
type Reporter interface {
	// Update shows transferred of total bytes for the operation named title.
	Update(transferred, total int64, title string)
	// Complete marks the operation named title as finished.
	Complete(total int64, title string)
	// Close releases the display; pending bars are abandoned.
	Close()
}

// NewReporter picks the display for a client: a multi-bar Board for the
// interactive shell, a single CLIProgress bar for one-shot commands, or
// nothing when w is not a terminal.
func NewReporter(w *os.File, interactive bool) Reporter {
	if !isTerminal(w) {
		return NewNoOpProgress()
	}
	if interactive {
		return NewBoard(w)
	}
	return NewCLIProgress(w)
}

// CLIProgress renders one bar at a time using progressbar. A notification
// for a different title or total starts a new bar.
type CLIProgress struct {
	out   io.Writer
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	title string
	total int64
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

func (p *CLIProgress) start(total int64, title string) {
	description := title
	if description == "" {
		description = "TRANSFERRING"
	}
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	p.title = title
	p.total = total
}

func (p *CLIProgress) Update(transferred, total int64, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.title != title || p.total != total {
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		p.start(total, title)
	}
	_ = p.bar.Set64(transferred)
}

func (p *CLIProgress) Complete(total int64, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.title != title {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

func (p *CLIProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Exit()
		p.bar = nil
	}
}

// NoOpProgress is a no-op implementation of Reporter.
type NoOpProgress struct{}

// NewNoOpProgress creates a no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (NoOpProgress) Update(int64, int64, string) {}
func (NoOpProgress) Complete(int64, string)      {}
func (NoOpProgress) Close()                      {}

// Reader wraps an io.Reader and reports the running byte count.
type Reader struct {
	reader  io.Reader
	report  func(n int64)
	current int64
}

// NewReader returns a reader calling report after every successful read.
func NewReader(reader io.Reader, report func(current int64)) *Reader {
	return &Reader{reader: reader, report: report}
}

// Read implements io.Reader interface with progress reporting.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.current += int64(n)
		r.report(r.current)
	}
	return n, err
}
