// Package notify raises desktop notifications for the interactive shell.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gen2brain/beeep"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/logging"
)

// Notifier sends desktop notifications. It is safe for concurrent use.
type Notifier struct {
	logger  *logging.Logger
	enabled bool
	mu      sync.RWMutex

	// send and alert are swapped out in tests.
	send  func(title, message string) error
	alert func(title, message string) error

	lastOverQuota time.Time
	minGap        time.Duration
}

// NewNotifier creates a notifier. A disabled notifier drops everything.
func NewNotifier(enabled bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		logger:  logger,
		enabled: enabled,
		send: func(title, message string) error {
			// beeep.Notify is cross-platform:
			// - Windows: toast notifications
			// - macOS: NSUserNotificationCenter
			// - Linux: D-Bus notifications
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
		minGap: time.Minute,
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// OverQuota alerts that transfers are held back. Repeats within a minute are
// dropped so a burst of retrying transfers raises a single alert.
func (n *Notifier) OverQuota(message string) {
	n.mu.Lock()
	if !n.enabled || time.Since(n.lastOverQuota) < n.minGap {
		n.mu.Unlock()
		return
	}
	n.lastOverQuota = time.Now()
	n.mu.Unlock()

	title := constants.AppName + ": transfer quota"
	if err := n.alert(title, message); err != nil {
		// Fall back to regular notify
		if err := n.send(title, message); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to send over-quota notification")
		}
	}
}

// TransferFinished notifies the end of a long transfer batch.
func (n *Notifier) TransferFinished(title string, total int64) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("%s finished (%s)", truncate(title, 60), humanize.IBytes(uint64(max(total, 0))))
	if err := n.send(constants.AppName, message); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send transfer notification")
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
