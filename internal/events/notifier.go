// Package events provides an in-process notification bus for session
// activity. Publishing never blocks; slow subscribers lose events.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a kind of session activity.
type Type string

const (
	SessionOpened Type = "session_opened"
	LogAppended   Type = "log_appended"
	StatusUpdated Type = "status_updated"
	FileUploaded  Type = "file_uploaded"
)

// Event describes one committed change.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	AppName   string    `json:"app_name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans events out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels buffer
// bufferSize events.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends ev to every matching subscriber. If a subscriber's channel
// is full the event is dropped for that subscriber.
func (n *Notifier) Publish(ev Event) {
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(ev.AppName) {
			sub.send(ev)
		}
		return true
	})
}

// Subscribe registers a subscriber. filters are app name prefixes; none
// means every event.
func (n *Notifier) Subscribe(filters ...string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		Filters: filters,
		Ch:      make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call concurrently with Publish.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		value.(*Subscriber).close()
	}
}

// Subscribers returns the number of active subscribers.
func (n *Notifier) Subscribers() int {
	count := 0
	n.subscribers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Subscriber is one registered listener.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Event

	// mu guards sends on Ch against close.
	mu     sync.RWMutex
	closed bool
}

func (s *Subscriber) send(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.Ch <- ev:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}

func (s *Subscriber) matches(appName string) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == "" || strings.HasPrefix(appName, f) {
			return true
		}
	}
	return false
}
