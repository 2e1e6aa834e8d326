package daemon

import (
	"sync"

	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/logging"
)

type stateListener struct {
	id   int
	conn Conn
	sub  *events.Subscription
	done chan struct{}
}

// StateListeners keeps the long-lived client connections that receive state
// pushes, and forwards bus events addressed to them.
type StateListeners struct {
	bus    *events.EventBus
	logger *logging.Logger

	mu        sync.Mutex
	listeners map[int]*stateListener
	nextID    int
	closed    bool
}

// NewStateListeners returns an empty registry fed by bus.
func NewStateListeners(bus *events.EventBus, logger *logging.Logger) *StateListeners {
	return &StateListeners{
		bus:       bus,
		logger:    logger,
		listeners: make(map[int]*stateListener),
		nextID:    1,
	}
}

// Register assigns the next client id to conn, writes the lines greeting
// returns for it, then starts forwarding events. Events published while the
// greeting is written are delivered after it.
func (s *StateListeners) Register(conn Conn, greeting func(id int) []string) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return 0, ErrTransportClosed
	}
	id := s.nextID
	s.nextID++
	l := &stateListener{id: id, conn: conn, sub: s.bus.SubscribeClient(id), done: make(chan struct{})}
	s.listeners[id] = l
	s.mu.Unlock()

	for _, line := range greeting(id) {
		if err := conn.WriteState(line); err != nil {
			s.drop(l)
			return id, err
		}
	}

	go s.forward(l)
	s.logger.Debug().Int("client_id", id).Msg("State listener registered")
	return id, nil
}

func (s *StateListeners) forward(l *stateListener) {
	defer close(l.done)
	for ev := range l.sub.C {
		if err := l.conn.WriteState(ev.Line()); err != nil {
			s.logger.Debug().Err(err).Int("client_id", l.id).Msg("State listener gone, unregistering")
			s.drop(l)
			return
		}
	}
}

// drop unregisters l and closes its connection. Safe to call twice.
func (s *StateListeners) drop(l *stateListener) {
	s.mu.Lock()
	_, ok := s.listeners[l.id]
	delete(s.listeners, l.id)
	s.mu.Unlock()

	if ok {
		l.sub.Close()
		l.conn.Close()
	}
}

// Count returns the number of registered listeners.
func (s *StateListeners) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Close drops every listener and refuses new ones.
func (s *StateListeners) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*stateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		all = append(all, l)
	}
	s.mu.Unlock()

	for _, l := range all {
		s.drop(l)
		<-l.done
	}
}
