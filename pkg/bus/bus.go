// Package bus fans validated runtime messages out to observers.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 64

// ErrRejected is returned by Publish for messages failing validation.
var ErrRejected = errors.New("message rejected")

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(msg protocol.Message) error
}

// Bus delivers each published message to every matching subscriber in
// publish order. Sends never block: a subscriber whose buffer is full misses
// the message.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	nextID      uint64
	logger      zerolog.Logger
}

type subscription struct {
	session string
	ch      chan protocol.Message
}

// New creates an empty bus.
func New(logger zerolog.Logger) *Bus {
	observability.EnsureRegistered()
	return &Bus{
		subscribers: make(map[uint64]*subscription),
		logger:      logger.With().Str("component", "bus").Logger(),
	}
}

// Subscribe returns a channel of messages for sessionID, or for every
// session when sessionID is empty. cancel closes the channel and is safe to
// call more than once.
func (b *Bus) Subscribe(sessionID string, buffer int) (<-chan protocol.Message, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscription{
		session: strings.TrimSpace(sessionID),
		ch:      make(chan protocol.Message, buffer),
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	observability.SetBusSubscribers(count)

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[id]; !ok {
			b.mu.Unlock()
			return
		}
		delete(b.subscribers, id)
		close(sub.ch)
		count := len(b.subscribers)
		b.mu.Unlock()
		observability.SetBusSubscribers(count)
	}
	return sub.ch, cancel
}

// Publish validates msg and delivers it. Invalid messages reach no
// subscriber.
func (b *Bus) Publish(msg protocol.Message) error {
	if err := protocol.Validate(msg); err != nil {
		observability.RecordMessageRejected()
		b.logger.Warn().Err(err).Msg("Rejected runtime message")
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	kind := string(msg.Kind())
	session := msg.Header().SessionID
	observability.RecordMessagePublished(kind)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.session != "" && sub.session != session {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			observability.RecordMessageDropped()
			b.logger.Debug().
				Str("type", kind).
				Str("session_id", session).
				Msg("Subscriber buffer full, message dropped")
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
