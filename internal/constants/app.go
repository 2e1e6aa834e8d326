package constants

import (
	"time"
)

// Application identity
const (
	// AppName is used for config directories, socket names and log prefixes
	AppName = "cloudcmd"

	// DefaultPrompt is shown by the interactive shell when no other prompt is active
	DefaultPrompt = "cloudcmd> "
)

// Interactive prompts pushed to state listeners when a command needs input
const (
	PromptPassword         = "Password:"
	PromptOldPassword      = "Old Password:"
	PromptNewPassword      = "New Password:"
	PromptRetypePassword   = "Retype New Password:"
	PromptAreYouSureDelete = "Are you sure to delete? "

	// PromptConfirmRetry re-asks after an unrecognized confirmation answer
	PromptConfirmRetry = "Please enter [y]es/[n]o/[a]ll/none: "
)

// Petition dispatcher sizing
const (
	// MaxConcurrentPetitions - upper bound on workers in the Running state (100)
	MaxConcurrentPetitions = 100

	// FolderSessionPoolSize - anonymous sessions pre-created for public-link browsing (5)
	FolderSessionPoolSize = 5

	// ReconnectInterval - how often pending connections are retried (30 seconds)
	ReconnectInterval = 30 * time.Second

	// ExitPollInterval - granularity at which background loops notice the exit flag (300ms)
	ExitPollInterval = 300 * time.Millisecond
)

// Transfer ledger
const (
	// MaxCompletedTransfers - bound on the completed transfer ledger (10,000)
	// Oldest entries are evicted first.
	MaxCompletedTransfers = 10000

	// BandwidthQueryInterval - minimum spacing between bandwidth usage queries (60 seconds)
	BandwidthQueryInterval = 60 * time.Second
)

// Bounded waits for optional information
const (
	// SessionInfoWait - bounded wait for account details in the sessions listing (3 seconds)
	SessionInfoWait = 3 * time.Second

	// AdvisoryWait - bounded wait for optional advisories such as the version check (2 seconds)
	AdvisoryWait = 2 * time.Second
)

// Progress rendering
const (
	// DefaultColumns - terminal width assumed when none is known
	DefaultColumns = 80

	// ProgressCompleted - sentinel "transferred" value meaning the operation just completed
	ProgressCompleted = -2

	// ProgressUpdateInterval - refresh rate of client-side progress bars (300ms)
	ProgressUpdateInterval = 300 * time.Millisecond
)

// Wire markers
const (
	// InteractiveMarker prefixes petitions sent by an interactive shell
	InteractiveMarker = 'X'

	// StateSeparator terminates every state line pushed to listeners (ASCII unit separator)
	StateSeparator = '\x1F'

	// ClientIDParam is the trailing petition argument carrying a listener's client id
	ClientIDParam = "clientID="

	// ErrorPetition is the line the transport hands over when it failed to read a petition
	ErrorPetition = "ERROR"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000

	// CriticalEventWait - how long a completion sentinel or ack waits for room in a full buffer (1 second)
	CriticalEventWait = 1 * time.Second
)

// Retry configuration
const (
	// MaxRetries - maximum number of attempts for a transfer hitting temporary errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (1s)
	RetryInitialDelay = 1 * time.Second

	// RetryMaxDelay - maximum delay between retries (30s)
	RetryMaxDelay = 30 * time.Second

	// ThrottleDefaultDelay - cooldown assumed when a throttled backend gives no Retry-After (30s)
	ThrottleDefaultDelay = 30 * time.Second
)

// Concrete engine
const (
	// MaxActiveTransfers - transfers moving bytes at once; the rest stay QUEUED (4)
	MaxActiveTransfers = 4

	// BandwidthWindowHours - span of the temporal bandwidth reported by account queries (6 hours)
	BandwidthWindowHours = 6

	// TransferUpdateInterval - minimum spacing between transfer update callbacks (200ms)
	TransferUpdateInterval = 200 * time.Millisecond
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// IPC
const (
	// IPCConnectionDeadline - idle deadline on a one-shot petition connection (30 seconds)
	// State-listener connections have no deadline.
	IPCConnectionDeadline = 30 * time.Second

	// IPCDialTimeout - how long a client waits for the daemon socket (5 seconds)
	IPCDialTimeout = 5 * time.Second
)
