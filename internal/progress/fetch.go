package progress

import (
	"sync"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/listener"
)

// FetchTitle labels node-fetch progress notifications.
const FetchTitle = "Fetching nodes"

// FetchBar is a blocking request listener that draws node-fetch progress.
type FetchBar struct {
	*listener.Request
	bar *fetchBar
}

// NewFetchBar returns a fetch listener forwarding to forward (when not nil).
// The notification title is always FetchTitle.
func NewFetchBar(opts Options, forward ...engine.RequestListener) *FetchBar {
	opts.Title = FetchTitle
	bar := &fetchBar{opts: opts.normalized()}
	return &FetchBar{
		Request: listener.NewRequest(append(forward, bar)...),
		bar:     bar,
	}
}

type fetchBar struct {
	engine.BaseRequestListener

	opts  Options
	mu    sync.Mutex
	state barState
}

func (b *fetchBar) OnRequestUpdate(req *engine.Request) {
	if req.Type != engine.RequestFetchNodes {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	transferred, total := req.TransferredBytes, req.TotalBytes
	percent := Percent(transferred, total)
	if b.state.draw(b.opts.Out, FetchPrefix, b.opts.Columns, transferred, total, percent, total) {
		b.opts.notify(transferred, total)
	}
}

func (b *fetchBar) OnRequestFinish(req *engine.Request, err error) {
	if req.Type != engine.RequestFetchNodes {
		return
	}
	b.opts.notify(constants.ProgressCompleted, req.TotalBytes)
}
