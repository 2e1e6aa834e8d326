// Package events carries daemon state notifications (prompt changes, progress,
// advisory messages, acknowledgements) from whoever produces them to every
// registered state listener.
package events

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventPrompt    EventType = "prompt"
	EventProgress  EventType = "progress"
	EventMessage   EventType = "message"
	EventAck       EventType = "ack"
	EventOverQuota EventType = "over_quota"
)

// BroadcastClient addresses an event to every listener rather than one client id.
const BroadcastClient = -1

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
	// Target returns the client id the event is addressed to, or BroadcastClient.
	Target() int
	// Line renders the event as a state line (without the trailing separator).
	Line() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
	ClientID  int
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) Target() int          { return e.ClientID }

// PromptEvent announces a new interactive prompt.
type PromptEvent struct {
	BaseEvent
	Prompt string
}

func (e *PromptEvent) Line() string { return "prompt:" + e.Prompt }

// ProgressEvent carries raw byte counters for one transfer or one batch.
// Transferred == constants.ProgressCompleted marks the end of the operation.
type ProgressEvent struct {
	BaseEvent
	Transferred int64
	Total       int64
	Title       string
}

func (e *ProgressEvent) Line() string {
	line := "progress:" + strconv.FormatInt(e.Transferred, 10) + ":" + strconv.FormatInt(e.Total, 10)
	if e.Title != "" {
		line += ":" + e.Title
	}
	return line
}

// MessageEvent is advisory text (new version available, deprecated OS, quota).
type MessageEvent struct {
	BaseEvent
	Text string
}

func (e *MessageEvent) Line() string { return "message:" + e.Text }

// AckEvent answers a "sendack" petition.
type AckEvent struct {
	BaseEvent
}

func (e *AckEvent) Line() string { return "ack" }

// OverQuotaEvent is published on the transition into the over-quota state.
type OverQuotaEvent struct {
	BaseEvent
	WaitSeconds int64
}

func (e *OverQuotaEvent) Line() string {
	return "message:Transfer quota exceeded. Retry in " + strconv.FormatInt(e.WaitSeconds, 10) + " seconds"
}

// Subscription is one consumer of the bus. Events arrive on C until Close is
// called or the bus shuts down.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	types map[EventType]bool
	bus   *EventBus

	// client, when targeted, restricts delivery to events addressed to it
	// or broadcast.
	client   int
	targeted bool
}

func (s *Subscription) wants(ev Event) bool {
	if len(s.types) > 0 && !s.types[ev.Type()] {
		return false
	}
	if s.targeted {
		if target := ev.Target(); target != BroadcastClient && target != s.client {
			return false
		}
	}
	return true
}

// critical events mark the end of an operation; a client that misses one
// never learns the operation finished.
func critical(ev Event) bool {
	switch e := ev.(type) {
	case *AckEvent:
		return true
	case *ProgressEvent:
		return e.Transferred == constants.ProgressCompleted
	}
	return false
}

// Close detaches the subscription from the bus and closes C.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	mu            sync.RWMutex
	subs          map[*Subscription]struct{}
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscribe creates a subscription to the given event types, or to every
// type when none are given.
func (eb *EventBus) Subscribe(types ...EventType) *Subscription {
	return eb.subscribe(&Subscription{}, types)
}

// SubscribeClient is Subscribe limited to events addressed to clientID or
// to BroadcastClient. Other clients' events never take buffer space.
func (eb *EventBus) SubscribeClient(clientID int, types ...EventType) *Subscription {
	return eb.subscribe(&Subscription{client: clientID, targeted: true}, types)
}

func (eb *EventBus) subscribe(sub *Subscription, types []EventType) *Subscription {
	ch := make(chan Event, eb.bufferSize)
	sub.C, sub.ch, sub.bus = ch, ch, eb
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(ch)
		return sub
	}
	eb.subs[sub] = struct{}{}
	return sub
}

// Publish sends an event to all interested subscribers without blocking.
// Events that do not fit a subscriber's buffer are dropped and counted,
// except completion sentinels and acks, which wait up to
// constants.CriticalEventWait for room.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for sub := range eb.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
			continue
		default:
		}
		if critical(event) && sendWithin(sub.ch, event, constants.CriticalEventWait) {
			continue
		}
		eb.droppedEvents.Add(1)
	}
}

func sendWithin(ch chan Event, event Event, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case ch <- event:
		return true
	case <-timer.C:
		return false
	}
}

func (eb *EventBus) remove(sub *Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, ok := eb.subs[sub]; !ok {
		return
	}
	delete(eb.subs, sub)
	close(sub.ch)
}

// Close shuts down the event bus and closes all subscription channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// SubscriberCount reports how many subscriptions are attached.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// PublishPrompt broadcasts a prompt change.
func (eb *EventBus) PublishPrompt(prompt string) {
	eb.Publish(&PromptEvent{
		BaseEvent: BaseEvent{EventType: EventPrompt, Time: time.Now(), ClientID: BroadcastClient},
		Prompt:    prompt,
	})
}

// PublishProgress sends progress counters to one client.
func (eb *EventBus) PublishProgress(clientID int, transferred, total int64, title string) {
	eb.Publish(&ProgressEvent{
		BaseEvent:   BaseEvent{EventType: EventProgress, Time: time.Now(), ClientID: clientID},
		Transferred: transferred,
		Total:       total,
		Title:       title,
	})
}

// PublishMessage sends advisory text to one client or, with BroadcastClient, to all.
func (eb *EventBus) PublishMessage(clientID int, text string) {
	eb.Publish(&MessageEvent{
		BaseEvent: BaseEvent{EventType: EventMessage, Time: time.Now(), ClientID: clientID},
		Text:      text,
	})
}

// PublishAck broadcasts an acknowledgement.
func (eb *EventBus) PublishAck() {
	eb.Publish(&AckEvent{
		BaseEvent: BaseEvent{EventType: EventAck, Time: time.Now(), ClientID: BroadcastClient},
	})
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
