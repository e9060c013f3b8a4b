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
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

func newTestBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "krust.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := New(st)
	return bus, st
}

func newPod(namespace, name string) document.Doc {
	return document.Doc{
		"kind":       "Pod",
		"apiVersion": "v1",
		"metadata":   map[string]interface{}{"name": name, "namespace": namespace},
		"spec": map[string]interface{}{
			"containers": []interface{}{map[string]interface{}{"name": "nginx", "image": "nginx:1.25"}},
		},
	}
}

func TestBusDeliversEventToSubscriber(t *testing.T) {
	bus, st := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	sub, err := bus.Subscribe(ctx, "Pod", "", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	kind, _ := api.ByKind("Pod")
	if _, err := st.Create(ctx, kind, newPod("default", "nginx")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != api.Added {
			t.Fatalf("got type %v, want Added", evt.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for watch event")
	}
}

func TestBusSubscribeFiltersByNamespace(t *testing.T) {
	bus, st := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	sub, err := bus.Subscribe(ctx, "Pod", "team-a", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	kind, _ := api.ByKind("Pod")
	if _, err := st.Create(ctx, kind, newPod("default", "other-ns-pod")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.Create(ctx, kind, newPod("team-a", "mine")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case evt := <-sub.Events():
		doc, err := document.Parse(evt.Object)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if document.GetString(doc, "metadata", "name") != "mine" {
			t.Fatalf("expected only the team-a namespace pod, got %v", doc)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for watch event")
	}
}

func TestBusSubscribeGoneWhenResourceVersionCompactedOut(t *testing.T) {
	bus, st := newTestBus(t)
	ctx := context.Background()
	kind, _ := api.ByKind("Pod")

	if _, err := st.Create(ctx, kind, newPod("default", "a")); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := st.Create(ctx, kind, newPod("default", "b")); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := st.PruneEvents(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if _, err := st.Create(ctx, kind, newPod("default", "c")); err != nil {
		t.Fatalf("Create c: %v", err)
	}

	_, err := bus.Subscribe(ctx, "Pod", "", 1)
	if err == nil || !krusterr.IsGone(err) {
		t.Fatalf("expected Gone error resuming below the retained window, got %v", err)
	}
}

func TestBusSubscribeStartingAtCurrentVersionIsNotGone(t *testing.T) {
	bus, st := newTestBus(t)
	ctx := context.Background()
	kind, _ := api.ByKind("Pod")

	created, err := st.Create(ctx, kind, newPod("default", "a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rv, err := strconv.ParseInt(document.GetString(created, "metadata", "resourceVersion"), 10, 64)
	if err != nil {
		t.Fatalf("parse resourceVersion: %v", err)
	}

	sub, err := bus.Subscribe(ctx, "Pod", "", rv)
	if err != nil {
		t.Fatalf("Subscribe should not be Gone right after creation: %v", err)
	}
	sub.Close()
}

func TestSubscribeBackfillsEventsCommittedBeforeSubscribing(t *testing.T) {
	bus, st := newTestBus(t)
	ctx := context.Background()
	kind, _ := api.ByKind("Pod")

	a, err := st.Create(ctx, kind, newPod("default", "a"))
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := st.Create(ctx, kind, newPod("default", "b")); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if _, err := st.Create(ctx, kind, newPod("default", "c")); err != nil {
		t.Fatalf("Create c: %v", err)
	}
	rv, err := strconv.ParseInt(document.GetString(a, "metadata", "resourceVersion"), 10, 64)
	if err != nil {
		t.Fatalf("parse resourceVersion: %v", err)
	}

	// Note: bus.Run is never started here. A subscription resuming from
	// a gap must replay everything it missed on its own, independent of
	// whatever the live tail loop's cursor happens to be.
	sub, err := bus.Subscribe(ctx, "Pod", "", rv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	var names []string
	for i := 0; i < 2; i++ {
		select {
		case evt := <-sub.Events():
			doc, err := document.Parse(evt.Object)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			names = append(names, document.GetString(doc, "metadata", "name"))
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for backfilled event %d", i)
		}
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "c" {
		t.Fatalf("got backfilled names %v, want [b c]", names)
	}
}

func TestUnsubscribeRemovesFromFanOut(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "Pod", "", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	bus.unsubscribe(sub)

	bus.mu.Lock()
	_, present := bus.subs[sub.id()]
	bus.mu.Unlock()
	if present {
		t.Fatalf("expected subscription to be removed from the fan-out set")
	}
}
