package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventReviewViewed   EventKind = "review.viewed"
	EventQuotaExhausted EventKind = "quota.exhausted"
	EventQuotaReset     EventKind = "quota.reset"
	EventSignedIn       EventKind = "session.signed_in"
	EventSignedOut      EventKind = "session.signed_out"
)

// Visitor identifies whose quota an event belongs to. Exactly one of the
// fields is set for quota events; both are set for session events.
type Visitor struct {
	DeviceID string
	UserID   string
}

type Event struct {
	Kind     EventKind
	Visitor  Visitor
	ReviewID string
	Count    int
	At       time.Time
}

type Handler func(ctx context.Context, e Event)

// Bus is a synchronous publish/subscribe hub. Handlers run in subscription
// order on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventKind][]subscription
}

type subscription struct {
	id int
	h  Handler
}

func NewBus() *Bus {
	return &Bus{subs: map[EventKind][]subscription{}}
}

// Subscribe registers h for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind EventKind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	list := make([]subscription, len(b.subs[e.Kind]))
	copy(list, b.subs[e.Kind])
	b.mu.RUnlock()

	for _, s := range list {
		deliver(ctx, s.h, e)
	}
}

func deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", string(e.Kind)).Msg("event handler panicked")
		}
	}()
	h(ctx, e)
}
