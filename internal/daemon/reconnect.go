package daemon

import (
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/logging"
)

// Reconnector retries pending connections on a fixed interval until its exit
// condition turns true.
type Reconnector struct {
	Retry    func()
	Interval time.Duration
	// Poll is how often the exit condition is checked.
	Poll   time.Duration
	Logger *logging.Logger
}

// Run blocks until exiting returns true.
func (r *Reconnector) Run(exiting func() bool) {
	interval, poll := r.Interval, r.Poll
	if interval <= 0 {
		interval = constants.ReconnectInterval
	}
	if poll <= 0 {
		poll = constants.ExitPollInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	last := time.Now()
	for range ticker.C {
		if exiting() {
			return
		}
		if time.Since(last) < interval {
			continue
		}
		last = time.Now()
		if r.Logger != nil {
			r.Logger.Debug().Msg("Retrying pending connections")
		}
		r.Retry()
	}
}
