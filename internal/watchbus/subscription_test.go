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
	"testing"

	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

func TestSubscriptionMatchesKindNamespaceAndAfter(t *testing.T) {
	sub := &Subscription{kind: "Pod", namespace: "default", after: 5}

	if sub.matches(store.Event{ResourceType: "Service", ResourceNS: "default", ResourceVersion: 6}) {
		t.Fatalf("wrong kind should not match")
	}
	if sub.matches(store.Event{ResourceType: "Pod", ResourceNS: "other", ResourceVersion: 6}) {
		t.Fatalf("wrong namespace should not match")
	}
	if sub.matches(store.Event{ResourceType: "Pod", ResourceNS: "default", ResourceVersion: 5}) {
		t.Fatalf("resourceVersion not strictly greater than after should not match")
	}
	if !sub.matches(store.Event{ResourceType: "Pod", ResourceNS: "default", ResourceVersion: 6}) {
		t.Fatalf("expected a matching event to match")
	}
}

func TestSubscriptionAllNamespacesMatches(t *testing.T) {
	sub := &Subscription{kind: "Pod", namespace: "", after: 0}
	if !sub.matches(store.Event{ResourceType: "Pod", ResourceNS: "team-a", ResourceVersion: 1}) {
		t.Fatalf("empty namespace filter should match every namespace")
	}
}

func TestSubscriptionDeliverEnqueuesMatchingEvent(t *testing.T) {
	sub := &Subscription{kind: "Pod", outbox: make(chan api.WatchEvent, 4), done: make(chan struct{})}
	sub.deliver(store.Event{ResourceType: "Pod", ResourceVersion: 1, Type: api.Added, Object: `{"kind":"Pod"}`})

	select {
	case evt := <-sub.Events():
		if evt.Type != api.Added {
			t.Fatalf("got type %v, want Added", evt.Type)
		}
	default:
		t.Fatalf("expected an event to be delivered")
	}
	if sub.after != 1 {
		t.Fatalf("expected after to advance to 1, got %d", sub.after)
	}
}

func TestSubscriptionDeliverIgnoresNonMatchingEvent(t *testing.T) {
	sub := &Subscription{kind: "Pod", outbox: make(chan api.WatchEvent, 4), done: make(chan struct{})}
	sub.deliver(store.Event{ResourceType: "Service", ResourceVersion: 1})
	if len(sub.outbox) != 0 {
		t.Fatalf("non-matching event should not be delivered")
	}
}

func TestSubscriptionDeliverAfterCloseIsNoop(t *testing.T) {
	sub := &Subscription{kind: "Pod", outbox: make(chan api.WatchEvent, 4), done: make(chan struct{})}
	sub.Close()
	sub.deliver(store.Event{ResourceType: "Pod", ResourceVersion: 1})
	if len(sub.outbox) != 0 {
		t.Fatalf("closed subscription should not receive further events")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	sub := &Subscription{kind: "Pod", outbox: make(chan api.WatchEvent, 1), done: make(chan struct{})}
	sub.Close()
	sub.Close()
}

func TestSubscriptionOverflowEmitsSingleBookmark(t *testing.T) {
	sub := &Subscription{kind: "Pod", outbox: make(chan api.WatchEvent, 2), done: make(chan struct{})}

	sub.deliver(store.Event{ResourceType: "Pod", ResourceVersion: 1, Type: api.Added, Object: "{}"})
	sub.deliver(store.Event{ResourceType: "Pod", ResourceVersion: 2, Type: api.Added, Object: "{}"})
	// Outbox is now full; this delivery must overflow into a bookmark
	// instead of blocking.
	sub.deliver(store.Event{ResourceType: "Pod", ResourceVersion: 3, Type: api.Added, Object: "{}"})

	if len(sub.outbox) != 1 {
		t.Fatalf("expected exactly one bookmark event after overflow, got %d queued", len(sub.outbox))
	}
	evt := <-sub.Events()
	if evt.Type != api.Bookmark {
		t.Fatalf("got type %v, want Bookmark", evt.Type)
	}
	if sub.after != 3 {
		t.Fatalf("expected after to advance to the overflowing event's version, got %d", sub.after)
	}

	select {
	case <-sub.done:
	default:
		t.Fatalf("expected overflow to close the subscription")
	}
}
