package listener

import (
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/logging"
)

// SessionWatcher observes finished requests and calls OnInvalid whenever one
// reports that the session is no longer valid. The daemon registers it with
// the engine so it sees every request, whoever issued it.
type SessionWatcher struct {
	engine.BaseRequestListener

	logger    *logging.Logger
	onInvalid func()
}

// NewSessionWatcher returns a watcher that runs onInvalid on every
// session-invalid outcome.
func NewSessionWatcher(logger *logging.Logger, onInvalid func()) *SessionWatcher {
	return &SessionWatcher{logger: logger, onInvalid: onInvalid}
}

func (w *SessionWatcher) OnRequestFinish(req *engine.Request, err error) {
	if engine.CodeOf(err) != engine.ESid {
		return
	}
	w.logger.Error().Msg("Session is no longer valid (it might have been invalidated from elsewhere)")
	if w.onInvalid != nil {
		w.onInvalid()
	}
}
