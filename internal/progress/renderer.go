// Package progress renders transfer progress on the daemon console and pushes
// raw progress counters to the client that issued the transfer.
//
// Renderer follows one transfer, Multi follows a batch of them and FetchBar
// follows a node fetch. The client side of the same notifications is drawn
// by Board (interactive shell) and CLIProgress (one-shot exec).
package progress

import (
	"io"
	"sync"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/listener"
)

// Options configure where a bar is drawn and who is told about it.
type Options struct {
	// Out receives the textual bar. Nil discards it.
	Out io.Writer
	// Columns is the bar width; zero means Columns(Out).
	Columns int
	// ClientID routes progress notifications; events.BroadcastClient
	// reaches every registered listener.
	ClientID int
	// Notifier receives the raw counters. Nil disables notifications.
	Notifier Notifier
	// Title is appended to every progress notification when set.
	Title string
}

func (o Options) normalized() Options {
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.Columns <= 0 {
		o.Columns = Columns(o.Out)
	}
	return o
}

func (o Options) notify(transferred, total int64) {
	if o.Notifier != nil {
		o.Notifier.PublishProgress(o.ClientID, transferred, total, o.Title)
	}
}

// Renderer is a blocking transfer listener that draws a bar for a single
// transfer. Wait, TryWait and the result accessors come from the embedded
// listener.Transfer.
type Renderer struct {
	*listener.Transfer
}

// NewRenderer returns a renderer that forwards every callback to forward
// (when not nil) before drawing.
func NewRenderer(opts Options, forward engine.TransferListener) *Renderer {
	bar := &transferBar{opts: opts.normalized()}

	subscribers := make([]engine.TransferListener, 0, 2)
	if forward != nil {
		subscribers = append(subscribers, forward)
	}
	subscribers = append(subscribers, bar)

	return &Renderer{Transfer: listener.NewTransfer(subscribers...)}
}

// transferBar holds the per-transfer progress record.
type transferBar struct {
	engine.BaseTransferListener

	opts  Options
	mu    sync.Mutex
	state barState
}

func (b *transferBar) OnTransferUpdate(tr *engine.Transfer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	transferred, total := tr.TransferredBytes, tr.TotalBytes
	percent := Percent(transferred, total)
	if b.state.draw(b.opts.Out, TransferPrefix, b.opts.Columns, transferred, total, percent, total) {
		b.opts.notify(transferred, total)
	}
}

func (b *transferBar) OnTransferFinish(tr *engine.Transfer, err error) {
	b.mu.Lock()
	b.state.end(b.opts.Out)
	b.mu.Unlock()
	b.opts.notify(constants.ProgressCompleted, tr.TotalBytes)
}

var _ Notifier = (*events.EventBus)(nil)
