// Package eventbus is the in-process publish/subscribe channel between the
// tracker, the chat session and any UI or notifier.
package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"research-client/internal/domain/event"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/infra/logging"
)

var (
	_ adapter.Publisher  = (*Bus)(nil)
	_ adapter.Subscriber = (*Bus)(nil)
)

type subscription struct {
	id      uint64
	topics  map[event.Topic]struct{} // empty means every topic
	handler func(event.Envelope)
}

// Bus delivers events synchronously, in subscription order, on the publisher's goroutine.
// A panicking handler is logged and does not stop delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription
	log    *zerolog.Logger
	now    func() time.Time
}

func New(log *zerolog.Logger) *Bus {
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{log: log, now: time.Now}
}

// Subscribe registers handler for the given topics, or for all topics when none are given.
func (b *Bus) Subscribe(handler func(event.Envelope), topics ...event.Topic) func() {
	set := make(map[event.Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	s := &subscription{id: b.nextID, topics: set, handler: handler}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(e event.Event) {
	if e == nil {
		return
	}
	env := event.Envelope{ID: ulid.Make(), At: b.now(), Event: e}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.topics) == 0 {
			targets = append(targets, s)
			continue
		}
		if _, ok := s.topics[e.Topic()]; ok {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.log.Trace().Str("topic", string(e.Topic())).Str("event_id", env.ID.String()).Int("subscribers", len(targets)).Msg("publish")
	for _, s := range targets {
		b.deliver(s, env)
	}
}

func (b *Bus) deliver(s *subscription, env event.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error().Interface("panic", rec).Str("topic", string(env.Event.Topic())).Msg("event handler panicked")
		}
	}()
	s.handler(env)
}
