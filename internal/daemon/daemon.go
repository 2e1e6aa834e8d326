// Package daemon runs the command server: it accepts petitions from shell
// and one-shot clients, executes each on its own worker, and pushes state
// notifications to registered listeners.
package daemon

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rescale/cloudcmd/internal/commands"
	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/listener"
	"github.com/rescale/cloudcmd/internal/logging"
	"github.com/rescale/cloudcmd/internal/resources"
	"github.com/rescale/cloudcmd/internal/transfer"
)

// Config holds what the daemon is built from.
type Config struct {
	Engine    engine.Engine
	Transport Transport

	// MaxPetitions caps concurrently running petitions (default 100)
	MaxPetitions int

	// SessionPoolSize is the number of anonymous public-link sessions (default 5)
	SessionPoolSize int

	// LedgerSize bounds the completed transfer history (default 10000)
	LedgerSize int

	// ReconnectInterval is how often pending connections are retried (default 30s)
	ReconnectInterval time.Duration

	// Versions is consulted when a shell registers; nil disables the check.
	Versions       LatestVersionSource
	CurrentVersion string

	// Console receives daemon-side progress bars; nil discards them.
	Console io.Writer

	Logger *logging.Logger
}

// LatestVersionSource checks for and caches the newest published version.
type LatestVersionSource interface {
	VersionChecker
	// Cached returns the last known latest version, or "".
	Cached() string
}

// Daemon owns every long-lived component of the server.
type Daemon struct {
	cfg    Config
	logger *logging.Logger

	engine     engine.Engine
	bus        *events.EventBus
	prompt     *Prompt
	listeners  *StateListeners
	pool       *resources.Pool
	ledger     *transfer.Ledger
	quota      *transfer.QuotaWatcher
	executor   *commands.Executor
	dispatcher *Dispatcher

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New assembles a daemon around cfg.Engine. Nothing runs until Run is called.
func New(cfg Config) (*Daemon, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("daemon needs an engine")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("daemon needs a petition transport")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.SessionPoolSize <= 0 {
		cfg.SessionPoolSize = constants.FolderSessionPoolSize
	}
	if cfg.LedgerSize <= 0 {
		cfg.LedgerSize = constants.MaxCompletedTransfers
	}

	d := &Daemon{
		cfg:    cfg,
		logger: cfg.Logger,
		engine: cfg.Engine,
		bus:    events.NewEventBus(constants.EventBusDefaultBuffer),
	}
	d.prompt = NewPrompt(d.bus)
	d.listeners = NewStateListeners(d.bus, cfg.Logger)

	pool, err := resources.NewPool(cfg.SessionPoolSize, cfg.Engine.NewFolderSession)
	if err != nil {
		return nil, fmt.Errorf("failed to create session pool: %w", err)
	}
	d.pool = pool

	d.ledger = transfer.NewLedger(cfg.LedgerSize, cfg.Engine.NodePath)
	d.quota = transfer.NewQuotaWatcher(cfg.Engine, d.bus, cfg.Logger)
	cfg.Engine.AddTransferListener(d.ledger)
	cfg.Engine.AddTransferListener(d.quota)
	cfg.Engine.AddGlobalListener(d.quota)
	cfg.Engine.AddRequestListener(listener.NewSessionWatcher(cfg.Logger, d.prompt.Reset))

	env := commands.Env{
		Engine:    cfg.Engine,
		Pool:      d.pool,
		Ledger:    d.ledger,
		Quota:     d.quota,
		Bus:       d.bus,
		Console:   cfg.Console,
		Logger:    cfg.Logger,
		Reconnect: cfg.Engine.RetryPendingConnections,
	}
	if cfg.Versions != nil {
		env.Latest = cfg.Versions.Cached
	}
	d.executor = commands.NewExecutor(env)

	dcfg := DispatcherConfig{
		Transport:      cfg.Transport,
		Handler:        d.executor,
		Listeners:      d.listeners,
		Prompt:         d.prompt,
		Acker:          d.bus,
		MaxPetitions:   cfg.MaxPetitions,
		Retry:          cfg.Engine.RetryPendingConnections,
		CurrentVersion: cfg.CurrentVersion,
		DeprecatedOS:   DeprecatedOS(),
		Logger:         cfg.Logger,
	}
	if cfg.Versions != nil {
		dcfg.Versions = cfg.Versions
	}
	d.dispatcher = NewDispatcher(dcfg)
	return d, nil
}

// Run starts the reconnect loop and serves petitions until an exit is
// requested or the transport closes. It returns once every worker finished.
func (d *Daemon) Run() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info().
		Str("location", d.engine.Location()).
		Int("session_pool", d.cfg.SessionPoolSize).
		Int("ledger_size", d.cfg.LedgerSize).
		Msg("Daemon starting")

	r := &Reconnector{
		Retry:    d.engine.RetryPendingConnections,
		Interval: d.cfg.ReconnectInterval,
		Logger:   d.logger,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		r.Run(d.dispatcher.Exiting)
	}()

	d.dispatcher.Run()
	// A closed transport ends Run without an exit request.
	d.dispatcher.Stop()
	d.wg.Wait()

	d.engine.RemoveTransferListener(d.ledger)
	d.engine.RemoveTransferListener(d.quota)
	d.engine.RemoveGlobalListener(d.quota)
	d.bus.Close()

	d.logger.Info().
		Int("dropped_events", int(d.bus.GetDroppedEventCount())).
		Msg("Daemon stopped")
	return nil
}

// Stop requests an exit, as a "quit" petition does.
func (d *Daemon) Stop() {
	d.dispatcher.Stop()
}

// Dispatcher exposes the petition dispatcher.
func (d *Daemon) Dispatcher() *Dispatcher {
	return d.dispatcher
}

// Prompt exposes the current interactive prompt.
func (d *Daemon) Prompt() *Prompt {
	return d.prompt
}

// Ledger exposes the completed transfer history.
func (d *Daemon) Ledger() *transfer.Ledger {
	return d.ledger
}
