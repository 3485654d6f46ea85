// Package fanout implements the single-producer, multi-observer delivery
// surface between the broker consumer loop and the aggregator.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

var ErrNilEvent = errors.New("fanout: nil event")
var ErrNilErr = errors.New("fanout: nil error")

// Observer is a sink exposing the three callbacks a Bus can deliver to.
// OnNext/OnError must never block for long; the Bus invokes them
// synchronously, one at a time, outside its registry lock.
type Observer interface {
	OnNext(ctx context.Context, event *domain.UserEvent)
	OnError(err error)
	OnCompleted()
}

// Subscription is a release-able handle bound to one observer registration.
type Subscription struct {
	id  uuid.UUID
	bus *Bus
}

// Release removes the observer from the bus. Idempotent.
func (s Subscription) Release() {
	s.bus.unsubscribe(s.id)
}

type registration struct {
	id       uuid.UUID
	observer Observer
}

// Bus is the fan-out itself: one producer, N observers, de-duplicated by
// observer identity.
type Bus struct {
	log zerolog.Logger

	mu            sync.Mutex
	registrations []registration
	completed     bool
}

// New constructs an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "fanout").Logger()}
}

// Subscribe registers observer and returns a release-able handle.
// Re-subscribing the same observer instance is a no-op.
func (b *Bus) Subscribe(observer Observer) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.registrations {
		if r.observer == observer {
			return Subscription{id: r.id, bus: b}
		}
	}

	id := uuid.New()
	// Copy-on-write: never mutate the slice underlying a snapshot already
	// handed to Publish/PublishError/Complete.
	next := make([]registration, len(b.registrations), len(b.registrations)+1)
	copy(next, b.registrations)
	next = append(next, registration{id: id, observer: observer})
	b.registrations = next

	return Subscription{id: id, bus: b}
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, r := range b.registrations {
		if r.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	next := make([]registration, 0, len(b.registrations)-1)
	next = append(next, b.registrations[:idx]...)
	next = append(next, b.registrations[idx+1:]...)
	b.registrations = next
}

func (b *Bus) snapshot() []registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registrations
}

// Publish delivers event to every observer subscribed at the moment the
// registry snapshot is taken, in subscription order. A panic or error from
// one observer's OnNext is recovered and logged so it cannot starve the
// others.
func (b *Bus) Publish(ctx context.Context, event *domain.UserEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	for _, r := range b.snapshot() {
		b.deliverNext(ctx, r, event)
	}
	return nil
}

func (b *Bus) deliverNext(ctx context.Context, r registration, event *domain.UserEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Warn().Interface("panic", rec).Msg("observer OnNext panicked; swallowed")
		}
	}()
	r.observer.OnNext(ctx, event)
}

// PublishError multicasts an error signal to every currently subscribed
// observer. It does not clear the registry.
func (b *Bus) PublishError(err error) error {
	if err == nil {
		return ErrNilErr
	}
	for _, r := range b.snapshot() {
		b.deliverError(r, err)
	}
	return nil
}

func (b *Bus) deliverError(r registration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Warn().Interface("panic", rec).Msg("observer OnError panicked; swallowed")
		}
	}()
	r.observer.OnError(err)
}

// Complete delivers OnCompleted to every currently subscribed observer, then
// clears the registry. Subsequent Publish/PublishError calls become no-ops.
func (b *Bus) Complete() {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return
	}
	b.completed = true
	regs := b.registrations
	b.registrations = nil
	b.mu.Unlock()

	for _, r := range regs {
		b.deliverCompleted(r)
	}
}

func (b *Bus) deliverCompleted(r registration) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Warn().Interface("panic", rec).Msg("observer OnCompleted panicked; swallowed")
		}
	}()
	r.observer.OnCompleted()
}
