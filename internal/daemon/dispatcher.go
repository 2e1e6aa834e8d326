package daemon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rescale/cloudcmd/internal/commands"
	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/logging"
)

// State is what the dispatcher loop is doing.
type State int32

const (
	// StateIdle waits for the next petition.
	StateIdle State = iota
	// StateDispatching holds a petition and waits for a free slot.
	StateDispatching
	// StateRunning has just handed a petition to its worker.
	StateRunning
	// StateDraining stopped accepting and waits for running workers.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Handler executes one command petition.
type Handler interface {
	Execute(ctx context.Context, inv *commands.Invocation) commands.ExitCode
}

// Acker broadcasts the answer to a "sendack" petition.
type Acker interface {
	PublishAck()
}

// VersionChecker reports the newest published version.
type VersionChecker interface {
	Latest(ctx context.Context) (string, error)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Transport Transport
	Handler   Handler
	Listeners *StateListeners
	Prompt    *Prompt
	Acker     Acker

	// MaxPetitions caps workers running at once. Zero means
	// constants.MaxConcurrentPetitions.
	MaxPetitions int

	// Retry is called after every accepted petition, typically
	// Engine.RetryPendingConnections.
	Retry func()

	// Versions and CurrentVersion drive the new-version greeting; Versions may be nil.
	Versions       VersionChecker
	CurrentVersion string
	// DeprecatedOS adds the deprecated-OS greeting.
	DeprecatedOS bool

	Logger *logging.Logger
}

// Dispatcher accepts petitions and runs each one on its own worker goroutine,
// never more than MaxPetitions at a time.
type Dispatcher struct {
	cfg     DispatcherConfig
	logger  *logging.Logger
	sem     *semaphore.Weighted
	workers *registry

	state   atomic.Int32
	exiting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher returns a dispatcher ready to Run.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxPetitions <= 0 {
		cfg.MaxPetitions = constants.MaxConcurrentPetitions
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPrompt(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		logger:  cfg.Logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxPetitions)),
		workers: newRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

// Running returns the number of workers executing a petition.
func (d *Dispatcher) Running() int {
	return d.workers.runningCount()
}

// PeakRunning returns the highest number of workers seen running at once.
func (d *Dispatcher) PeakRunning() int {
	return d.workers.peakRunning()
}

// Exiting reports whether an exit was requested.
func (d *Dispatcher) Exiting() bool {
	return d.exiting.Load()
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run accepts petitions until the transport closes or an exit is requested,
// then waits for the running workers.
func (d *Dispatcher) Run() {
	defer close(d.done)
	d.logger.Info().Int("max_petitions", d.cfg.MaxPetitions).Msg("Petition dispatcher started")

	for {
		d.setState(StateIdle)
		line, conn, err := d.cfg.Transport.Accept()
		if d.cfg.Retry != nil {
			d.cfg.Retry()
		}
		if d.exiting.Load() {
			if conn != nil {
				conn.Close()
			}
			break
		}
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				break
			}
			d.logger.Warn().Err(err).Msg("Failed to accept petition")
			continue
		}

		if n := d.workers.reclaim(); n > 0 {
			d.logger.Debug().Int("reclaimed", n).Msg("Reclaimed finished workers")
		}

		p := ParsePetition(line, conn)
		d.dispatch(p)
	}

	d.setState(StateDraining)
	d.logger.Info().Int("running", d.workers.runningCount()).Msg("Petition dispatcher draining")
	d.workers.wait()
	d.workers.reclaim()
	if d.cfg.Listeners != nil {
		d.cfg.Listeners.Close()
	}
	d.logger.Info().Msg("Petition dispatcher stopped")
}

func (d *Dispatcher) dispatch(p *Petition) {
	switch {
	case p.IsError():
		d.logger.Warn().Str("petition", p.ID).Msg("Dismissing petition that could not be read")
		p.Conn.Close()
		return
	case p.IsStateListener():
		d.registerStateListener(p)
		return
	}

	d.setState(StateDispatching)
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		// Only Stop cancels the context.
		p.Conn.Close()
		return
	}
	w := d.workers.start(p)
	d.setState(StateRunning)
	go d.work(w)
}

func (d *Dispatcher) registerStateListener(p *Petition) {
	if d.cfg.Listeners == nil {
		d.logger.Warn().Msg("State listener petition received but state pushes are disabled")
		p.Conn.Close()
		return
	}

	id, err := d.cfg.Listeners.Register(p.Conn, d.greeting)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to register state listener")
		return
	}
	d.logger.Info().Int("client_id", id).Bool("interactive", p.Interactive).Msg("Registered state listener")
}

const deprecatedOSMessage = "Your operating system is no longer supported. Please upgrade to keep receiving updates"

// greeting returns the first state lines sent to a new listener.
func (d *Dispatcher) greeting(id int) []string {
	lines := []string{
		fmt.Sprintf("clientID:%d", id),
		"prompt:" + d.cfg.Prompt.Get(),
	}
	if msg := d.versionMessage(); msg != "" {
		lines = append(lines, "message:"+msg)
	}
	if d.cfg.DeprecatedOS {
		lines = append(lines, "message:"+deprecatedOSMessage)
	}
	return lines
}

func (d *Dispatcher) versionMessage() string {
	if d.cfg.Versions == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(d.ctx, constants.AdvisoryWait)
	defer cancel()

	latest, err := d.cfg.Versions.Latest(ctx)
	if err != nil {
		d.logger.Debug().Err(err).Msg("Latest version unknown")
		return ""
	}
	if latest == "" || latest == d.cfg.CurrentVersion {
		return ""
	}
	return fmt.Sprintf("A new version is available: %s (running %s)", latest, d.cfg.CurrentVersion)
}

func (d *Dispatcher) work(w *worker) {
	p := w.petition
	defer func() {
		// Leave the running set before freeing the slot so the set never
		// holds more than MaxPetitions workers.
		d.workers.finish(w)
		d.sem.Release(1)
	}()

	plog := d.logger.Sub(d.logger.With().Str("petition", p.ID))
	if p.ClientID > 0 {
		plog = plog.Sub(plog.With().Int("client_id", p.ClientID))
	}
	plog.Debug().Str("line", p.Line).Bool("interactive", p.Interactive).Msg("Petition received")

	code, exit := d.handle(p, plog)
	if exit {
		plog.Info().Msg("Exit requested")
		d.Stop()
	}
	if err := p.Conn.Finish(int(code)); err != nil {
		plog.Debug().Err(err).Msg("Failed to send exit code")
	}
}

// handle runs p and reports its exit code and whether the daemon must exit.
func (d *Dispatcher) handle(p *Petition, plog *logging.Logger) (commands.ExitCode, bool) {
	switch p.Command() {
	case "quit", "exit", "q":
		if p.Interactive && slices.Contains(p.Args[1:], "--only-shell") {
			return commands.OK, false
		}
		return commands.OK, true
	case "sendack":
		if d.cfg.Acker != nil {
			d.cfg.Acker.PublishAck()
		}
		return commands.OK, false
	}

	inv := &commands.Invocation{
		Args:        p.Args,
		Out:         p.Conn,
		ClientID:    p.ClientID,
		Interactive: p.Interactive,
		Logger:      plog,
	}
	if p.Interactive {
		inv.Asker = p.Conn
	}
	return d.cfg.Handler.Execute(d.ctx, inv), false
}

// Stop requests an exit. Running workers are left to finish; Run returns
// once they have.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.exiting.Store(true)
		d.cancel()
		if err := d.cfg.Transport.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to close petition transport")
		}
	})
}
