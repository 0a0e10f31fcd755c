package profile

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	domain "github.com/open-builders/points-backend/internal/domain/profile"
)

// Listener receives the merged profile after a successful save.
type Listener func(p *domain.Profile)

// Bus delivers profile updates synchronously to every subscriber. A panicking
// listener is logged and does not stop delivery to the others.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	next      uint64
	log       zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{listeners: make(map[uint64]Listener), log: log}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish hands each listener its own copy of p, in subscription order.
func (b *Bus) Publish(p *domain.Profile) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Listener, len(ids))
	for i, id := range ids {
		snapshot[i] = b.listeners[id]
	}
	b.mu.RUnlock()

	for i, l := range snapshot {
		b.deliver(ids[i], l, p.Clone())
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Bus) deliver(id uint64, l Listener, p *domain.Profile) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Uint64("listener", id).Interface("panic", r).Int64("user_id", p.UserID).Msg("profile listener failed")
		}
	}()
	l(p)
}
