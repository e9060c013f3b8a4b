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

package watchbus

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

// Subscription is one open watch=true stream. The HTTP Front End reads
// Events() and writes one JSON line per event to the response body
// until the client disconnects.
type Subscription struct {
	uid       string
	kind      string
	namespace string

	// mu guards after and the send-then-advance sequence in deliver, so
	// a subscription's initial Subscribe-time backfill and the Bus's
	// live tail loop can both call deliver concurrently on the same
	// subscription without racing or double-delivering an event.
	mu    sync.Mutex
	after int64

	outbox chan api.WatchEvent
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) id() string {
	if s.uid == "" {
		s.uid = uuid.NewString()
	}
	return s.uid
}

// Events returns the channel of watch events for this subscription.
func (s *Subscription) Events() <-chan api.WatchEvent {
	return s.outbox
}

// Close stops delivery to the subscription; the Bus drops it from its
// fan-out set on its next tail. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Subscription) matches(ev store.Event) bool {
	if ev.ResourceType != s.kind {
		return false
	}
	if s.namespace != "" && ev.ResourceNS != s.namespace {
		return false
	}
	return ev.ResourceVersion > s.after
}

// deliver attempts a non-blocking send of ev to the subscriber's
// outbox. If the outbox is full the subscriber is slow: rather than
// block the shared tail loop, deliver drops the backlog, emits a
// single BOOKMARK and closes the subscription, so the client
// reconnects with a fresh resourceVersion instead of silently missing
// whatever was dropped (spec.md §4.2, "bookmark on overflow").
//
// deliver is called both from Subscribe's initial backfill replay and
// from the Bus's live tail loop; mu serializes the two so an event
// already delivered by one is never redelivered by the other.
func (s *Subscription) deliver(ev store.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under mu: an overflow may have closed the outbox while
	// this call was waiting for the lock.
	select {
	case <-s.done:
		return
	default:
	}

	if !s.matches(ev) {
		return
	}

	evt := api.WatchEvent{
		Type:   ev.Type,
		Object: decodeObject(ev.Object),
	}
	select {
	case s.outbox <- evt:
		s.after = ev.ResourceVersion
	default:
		s.handleOverflow(ev)
	}
}

// handleOverflow must be called with mu held.
func (s *Subscription) handleOverflow(ev store.Event) {
	glog.Warningf("watch bus: subscriber for %s lagging, closing after a final bookmark", s.kind)
drain:
	for {
		select {
		case <-s.outbox:
		default:
			break drain
		}
	}
	bookmark := api.WatchEvent{
		Type:   api.Bookmark,
		Object: decodeObject(fmt.Sprintf(`{"metadata":{"resourceVersion":"%d"}}`, ev.ResourceVersion)),
	}
	select {
	case s.outbox <- bookmark:
	default:
	}
	s.after = ev.ResourceVersion
	close(s.outbox)
	s.Close()
}
