/*
Copyright 2024 The Krust Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package watchbus is the Watch Bus (SPEC_FULL.md §4.2): it tails the
// Persistent Store's event log and fans each event out to every
// subscriber whose kind/namespace/resourceVersion window it matches.
// The fan-out loop here plays the role the teacher's
// controller/generic watchController event handlers play for a single
// informer, generalised to many concurrent HTTP watchers instead of
// one reconcile worker pool.
package watchbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

// pollInterval is the fallback tail cadence used when no Notify
// arrives; notifyCh is the fast path, this is the backstop.
const pollInterval = 2 * time.Second

// outboxSize bounds how far a slow subscriber may lag before it is
// bookmarked and resynced, per spec.md §4.2 ("bookmark on overflow").
const outboxSize = 256

// Bus is the Watch Bus. One Bus serves the whole process.
type Bus struct {
	st       *store.Store
	notifyCh chan struct{}

	mu   sync.Mutex
	subs map[string]*Subscription

	lastSeen int64
}

// New constructs a Bus over st. Call Run in its own goroutine to start
// tailing.
func New(st *store.Store) *Bus {
	b := &Bus{
		st:       st,
		notifyCh: make(chan struct{}, 1),
		subs:     make(map[string]*Subscription),
	}
	st.SetNotifier(b)
	return b
}

// Notify wakes the tail loop. Implements store.Notifier.
func (b *Bus) Notify() {
	select {
	case b.notifyCh <- struct{}{}:
	default:
	}
}

// Run tails the event log until ctx is cancelled. Call once, in its
// own goroutine, during server bootstrap.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notifyCh:
			b.tail(ctx)
		case <-ticker.C:
			b.tail(ctx)
		}
	}
}

func (b *Bus) tail(ctx context.Context) {
	events, err := b.st.EventsSince(ctx, b.lastSeen, 500)
	if err != nil {
		glog.Errorf("watch bus: failed to tail events: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for id, s := range b.subs {
		select {
		case <-s.done:
			delete(b.subs, id)
			continue
		default:
		}
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, ev := range events {
		b.lastSeen = ev.ResourceVersion
		for _, sub := range subs {
			sub.deliver(ev)
		}
	}
}

// Subscribe registers a new watcher for kind (and, if namespace != "",
// only that namespace), starting strictly after resourceVersion. If
// after has already aged out of the retained event-log window,
// Subscribe returns a Gone error immediately (spec.md §4.2).
//
// A new subscriber is registered for live tailing before its backfill
// is read back, then replayed every event already committed since
// after, so a watch resuming mid-gap observes everything it asked for
// instead of only events committed after it reconnected (spec.md §4.2
// backfill phase). Subscription.deliver serializes backfill and live
// deliveries per-subscriber, so the two never duplicate or reorder an
// event.
func (b *Bus) Subscribe(ctx context.Context, kind, namespace string, after int64) (*Subscription, error) {
	oldest, err := b.st.OldestRetainedVersion(ctx)
	if err != nil {
		return nil, err
	}
	if after != 0 && oldest != 0 && after < oldest-1 {
		return nil, krusterr.NewGone("the requested resourceVersion has been compacted out of the event log")
	}

	sub := &Subscription{
		kind:      kind,
		namespace: namespace,
		after:     after,
		outbox:    make(chan api.WatchEvent, outboxSize),
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id()] = sub
	b.mu.Unlock()

	backfill, err := b.st.EventsSince(ctx, after, 0)
	if err != nil {
		b.unsubscribe(sub)
		return nil, err
	}
	for _, ev := range backfill {
		sub.deliver(ev)
	}
	return sub, nil
}

// unsubscribe removes sub from the fan-out set. Called when Subscribe
// fails to read the backfill; subscriptions closed later are dropped
// from the set by tail.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id())
	b.mu.Unlock()
}

func decodeObject(raw string) json.RawMessage {
	return json.RawMessage(raw)
}
