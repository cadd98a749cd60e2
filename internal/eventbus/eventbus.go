// Package eventbus is the per-thread fan-out and replay bus (C3, §4.3):
// every durable GatewayEvent is appended to the ProjectionStore first,
// then published to any live subscribers for that thread. A new
// subscriber cold-starts from a client-supplied cursor by replaying
// persisted events before live delivery begins, the concatenation of
// which is strictly seq-ordered with no gaps or duplicates.
//
// Replaces the inherited event-emitter pattern (§9 "event-emitter pattern
// → channel fan-out") with explicit channel registration: subscribers
// register/unregister explicitly and broadcasts iterate a snapshot of the
// subscriber list so a concurrent subscribe/unsubscribe never mutates the
// slice a broadcast is ranging over.
package eventbus

import (
	"context"
	"sync"

	"github.com/codex-web/agent-gateway/internal/domain"
	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

// ReplayLimit bounds the cold-start replay window (§4.3).
const ReplayLimit = 1000

// eventStore is the subset of store.Store the bus needs for replay.
type eventStore interface {
	ListGatewayEventsSince(ctx context.Context, threadID string, sinceSeq int64, limit int) ([]domain.GatewayEvent, error)
}

// Subscription is a live feed of GatewayEvents for one thread, beginning
// with the replay window and continuing with live publishes.
type Subscription struct {
	Events <-chan domain.GatewayEvent
	cancel func()
}

// Close unsubscribes; safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

type subscriber struct {
	id int64
	ch chan domain.GatewayEvent
}

// Bus fans out durable events to per-thread subscribers.
type Bus struct {
	store eventStore
	log   *gatewaylog.Logger

	mu     sync.Mutex
	subs   map[string][]*subscriber
	nextID int64
}

// New creates a Bus backed by store for cold-start replay.
func New(store eventStore) *Bus {
	return &Bus{
		store: store,
		log:   gatewaylog.New("eventbus"),
		subs:  make(map[string][]*subscriber),
	}
}

// Publish delivers event to every live subscriber of event.ThreadID.
// Delivery is best-effort per subscriber: a slow or dead subscriber's
// buffer filling up drops the event for that subscriber only, and never
// blocks delivery to others (§4.3).
func (b *Bus) Publish(event domain.GatewayEvent) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs[event.ThreadID]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			b.log.Printf("dropping event seq=%d for slow subscriber on thread %s", event.Seq, event.ThreadID)
		}
	}
}

// Subscribe cold-starts a stream for threadID from sinceSeq (the
// client-supplied cursor) by replaying persisted events, then attaches
// live delivery. The returned Subscription's Events channel is closed
// when Close is called.
func (b *Bus) Subscribe(ctx context.Context, threadID string, sinceSeq int64) (*Subscription, error) {
	// Register before replaying: otherwise an event published between the
	// replay query returning and the subscriber being added would be in
	// neither the replay slice nor live delivery, opening a seq gap. The
	// resulting replay/live overlap is deduped below via lastSeq.
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan domain.GatewayEvent, 256)}
	b.subs[threadID] = append(b.subs[threadID], sub)
	b.mu.Unlock()

	unregister := func() {
		b.mu.Lock()
		list := b.subs[threadID]
		for i, s := range list {
			if s.id == id {
				b.subs[threadID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[threadID]) == 0 {
			delete(b.subs, threadID)
		}
		b.mu.Unlock()
	}

	replay, err := b.store.ListGatewayEventsSince(ctx, threadID, sinceSeq, ReplayLimit)
	if err != nil {
		unregister()
		return nil, err
	}

	out := make(chan domain.GatewayEvent, 256)
	done := make(chan struct{})

	go func() {
		defer close(out)
		lastSeq := sinceSeq
		for _, e := range replay {
			select {
			case out <- e:
				lastSeq = e.Seq
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case e, ok := <-sub.ch:
				if !ok {
					return
				}
				if e.Seq <= lastSeq {
					// Already delivered during replay; a live publish can race
					// the cold-start window on the boundary event.
					continue
				}
				select {
				case out <- e:
					lastSeq = e.Seq
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancelled := false
	cancel := func() {
		if cancelled {
			return
		}
		cancelled = true
		close(done)
		unregister()
	}

	return &Subscription{Events: out, cancel: cancel}, nil
}

// SubscriberCount returns the number of live subscribers for threadID.
func (b *Bus) SubscriberCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[threadID])
}
