// Package broadcast keeps every connected view converging on the same
// picture of the shared state. Local mutations are published to subscribers;
// events arriving from the store (including this client's own, echoed back)
// are reconciled last-write-wins by per-entity sequence.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

type snapshot struct {
	sequence int64
	payload  json.RawMessage
	op       model.Operation
}

type Broadcaster struct {
	log zerolog.Logger

	mu          sync.RWMutex
	state       map[model.EntityType]map[uuid.UUID]snapshot
	subs        map[model.EntityType]map[int]func(model.ChangeEvent)
	nextSubID   int
	lastEventAt time.Time
}

func New(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:   log,
		state: make(map[model.EntityType]map[uuid.UUID]snapshot),
		subs:  make(map[model.EntityType]map[int]func(model.ChangeEvent)),
	}
}

// Subscribe registers handler for every accepted event of entityType,
// whether it originated locally or remotely. The returned function removes
// the subscription.
func (b *Broadcaster) Subscribe(entityType model.EntityType, handler func(model.ChangeEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[entityType] == nil {
		b.subs[entityType] = make(map[int]func(model.ChangeEvent))
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[entityType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[entityType], id)
	}
}

// Publish records a locally originated, already-accepted mutation and fans
// it out to local subscribers. The store write itself has already happened
// by the time Publish is called; recording the sequence here is what lets
// Receive drop the echo of this same event off the feed.
func (b *Broadcaster) Publish(ev model.ChangeEvent) {
	b.apply(ev, false)
}

// Receive reconciles an event arriving from the store. If the local copy of
// the entity is already at or past the event's sequence the event is stale
// and dropped; otherwise local state advances and subscribers are notified.
// It returns whether the event was applied. Per entity, application is
// monotonic by sequence; no ordering across entities is promised.
func (b *Broadcaster) Receive(ev model.ChangeEvent) bool {
	return b.apply(ev, true)
}

func (b *Broadcaster) apply(ev model.ChangeEvent, remote bool) bool {
	b.mu.Lock()
	if remote {
		b.lastEventAt = time.Now()
	}
	byID := b.state[ev.EntityType]
	if byID == nil {
		byID = make(map[uuid.UUID]snapshot)
		b.state[ev.EntityType] = byID
	}
	if cur, ok := byID[ev.EntityID]; ok && cur.sequence >= ev.Sequence {
		b.mu.Unlock()
		b.log.Debug().
			Str("entity_type", string(ev.EntityType)).
			Str("entity_id", ev.EntityID.String()).
			Int64("event_seq", ev.Sequence).
			Int64("local_seq", cur.sequence).
			Msg("dropping stale event")
		return false
	}
	byID[ev.EntityID] = snapshot{sequence: ev.Sequence, payload: ev.Payload, op: ev.Operation}
	handlers := make([]func(model.ChangeEvent), 0, len(b.subs[ev.EntityType]))
	for _, h := range b.subs[ev.EntityType] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return true
}

// Snapshot returns the latest locally known payload and sequence for an
// entity, if any event for it has been seen.
func (b *Broadcaster) Snapshot(entityType model.EntityType, id uuid.UUID) (json.RawMessage, int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.state[entityType][id]
	if !ok {
		return nil, 0, false
	}
	return s.payload, s.sequence, true
}

// LastEventAt is the arrival time of the most recent remote event, zero if
// none has arrived yet.
func (b *Broadcaster) LastEventAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastEventAt
}

// Stale reports whether no remote event has arrived within window. A stale
// local cache can produce false-negative conflict checks, so callers must
// refresh from the store before create/move/bulk-reschedule when this
// returns true.
func (b *Broadcaster) Stale(window time.Duration, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastEventAt.IsZero() {
		return true
	}
	return now.Sub(b.lastEventAt) > window
}
