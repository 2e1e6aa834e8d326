package transfer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/listener"
	"github.com/rescale/cloudcmd/internal/logging"
)

// ErrNoUsage is returned when no bandwidth figures are available yet.
var ErrNoUsage = errors.New("bandwidth usage not available")

// AccountSource is the part of the engine the quota watcher queries.
type AccountSource interface {
	GetAccountDetails(l engine.RequestListener)
	QueryTransferQuota(size int64, l engine.RequestListener)
}

// Publisher receives state notifications.
type Publisher interface {
	Publish(events.Event)
}

// QuotaWatcher tracks the over-quota condition the engine reports through
// temporary transfer errors, and answers bandwidth usage questions without
// querying the account more than once per BandwidthQueryInterval.
//
// The flag and timestamps are atomics: they are written from engine
// goroutines and read by command workers without a shared lock.
type QuotaWatcher struct {
	engine.BaseTransferListener

	source AccountSource
	bus    Publisher
	logger *logging.Logger
	now    func() time.Time

	overQuota atomic.Bool
	since     atomic.Int64 // unix seconds of the latest over-quota report
	seconds   atomic.Int64 // advertised cooldown

	group   singleflight.Group
	mu      sync.Mutex
	limiter *rate.Limiter
	usage   *engine.AccountDetails
}

// NewQuotaWatcher returns a watcher querying source. bus may be nil.
func NewQuotaWatcher(source AccountSource, bus Publisher, logger *logging.Logger) *QuotaWatcher {
	return &QuotaWatcher{
		source:  source,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
		limiter: newUsageLimiter(),
	}
}

func newUsageLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(constants.BandwidthQueryInterval), 1)
}

// OnTransferTemporaryError flips the over-quota flag on EOverQuota and
// records when it happened and how long the engine asked us to wait.
func (q *QuotaWatcher) OnTransferTemporaryError(tr *engine.Transfer, err error) {
	if engine.CodeOf(err) != engine.EOverQuota {
		return
	}
	seconds := engine.ValueOf(err)
	q.since.Store(q.now().Unix())
	q.seconds.Store(seconds)

	if q.overQuota.Swap(true) {
		return
	}
	q.logger.Warn().
		Int("tag", tr.Tag).
		Int64("wait_seconds", seconds).
		Msg("Reached bandwidth quota. Transfers cannot proceed until the allowance is replenished")
	if q.bus != nil {
		q.bus.Publish(&events.OverQuotaEvent{
			BaseEvent:   events.BaseEvent{EventType: events.EventOverQuota, Time: q.now(), ClientID: events.BroadcastClient},
			WaitSeconds: seconds,
		})
	}
}

// OnAccountUpdate drops cached usage so the next question queries again,
// and clears the flag once the account reports no remaining delay.
func (q *QuotaWatcher) OnAccountUpdate() {
	q.mu.Lock()
	q.usage = nil
	q.limiter = newUsageLimiter()
	q.mu.Unlock()

	if !q.overQuota.Load() {
		return
	}
	l := listener.NewRequest(&accountUpdate{q: q})
	q.source.GetAccountDetails(l)
}

// accountUpdate clears the over-quota flag from an account refresh.
type accountUpdate struct {
	engine.BaseRequestListener
	q *QuotaWatcher
}

func (a *accountUpdate) OnRequestFinish(req *engine.Request, err error) {
	if err != nil || req.Account == nil {
		return
	}
	a.q.store(req.Account)
	if req.Account.OverQuotaDelay == 0 && a.q.overQuota.Swap(false) {
		a.q.logger.Info().Msg("Transfer quota available again")
	}
}

func (q *QuotaWatcher) store(details *engine.AccountDetails) {
	d := *details
	q.mu.Lock()
	q.usage = &d
	q.mu.Unlock()
}

// OverQuota reports whether the engine last said we are over quota.
func (q *QuotaWatcher) OverQuota() bool {
	return q.overQuota.Load()
}

// Remaining returns how long until the advertised cooldown ends, never
// negative.
func (q *QuotaWatcher) Remaining() time.Duration {
	if !q.overQuota.Load() {
		return 0
	}
	elapsed := q.now().Unix() - q.since.Load()
	left := q.seconds.Load() - elapsed
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

// Usage returns account bandwidth figures. A fresh query runs at most once
// per BandwidthQueryInterval and concurrent callers share it; in between the
// cached figures are returned. A failed or timed out query returns whatever
// was cached along with the error.
func (q *QuotaWatcher) Usage(timeout time.Duration) (*engine.AccountDetails, error) {
	v, err, _ := q.group.Do("usage", func() (interface{}, error) {
		q.mu.Lock()
		cached := q.usage
		allowed := q.limiter.Allow()
		q.mu.Unlock()

		if !allowed {
			if cached == nil {
				return nil, ErrNoUsage
			}
			return cached, nil
		}

		l := listener.NewRequest()
		q.source.GetAccountDetails(l)
		if err := l.TryWait(timeout); err != nil {
			return cached, err
		}
		if l.Err() != nil {
			return cached, l.Err()
		}
		if l.Request().Account == nil {
			return cached, ErrNoUsage
		}
		q.store(l.Request().Account)
		return l.Request().Account, nil
	})
	usage, _ := v.(*engine.AccountDetails)
	return usage, err
}

// CheckDownload decides whether a download of size bytes may start. It
// returns the text to show instead of starting, or "" to proceed.
func (q *QuotaWatcher) CheckDownload(size int64, timeout time.Duration) string {
	if q.OverQuota() {
		usage, err := q.Usage(timeout)
		if err != nil && !errors.Is(err, listener.ErrTimeout) {
			q.logger.Debug().Err(err).Msg("Bandwidth usage unavailable")
		}
		return q.warning(usage)
	}

	l := listener.NewRequest()
	q.source.QueryTransferQuota(size, l)
	if err := l.TryWait(timeout); err != nil {
		q.logger.Debug().Msg("Transfer quota query timed out, starting anyway")
		return ""
	}
	if l.Err() != nil {
		q.logger.Error().Err(l.Err()).Msg("Failed to query transfer quota")
		return ""
	}
	if l.Request().Flag {
		return "Transfer not started: proceeding will exceed transfer quota. Use --ignore-quota-warn to initiate nevertheless"
	}
	return ""
}

func (q *QuotaWatcher) warning(usage *engine.AccountDetails) string {
	var b strings.Builder
	b.WriteString("Transfer not started.\n")
	if usage != nil && usage.TemporalBandwidthValid {
		fmt.Fprintf(&b, "You have utilized %s of data transfer in the last %d hours, which took you over the current limit",
			humanize.IBytes(uint64(usage.TemporalBandwidth)), usage.TemporalBandwidthInterval)
	} else {
		b.WriteString("You have reached your bandwidth quota")
	}
	fmt.Fprintf(&b, ". You can try again in %s.\n", q.Remaining())
	b.WriteString("Use --ignore-quota-warn to initiate nevertheless")
	return b.String()
}

var _ engine.GlobalListener = (*QuotaWatcher)(nil)
