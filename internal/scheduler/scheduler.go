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

// Package scheduler is krust's Scheduler (SPEC_FULL.md §4.5): since a
// single-node cluster has exactly one placement decision to make, it
// binds every unscheduled Pod to the one seeded Node rather than
// running a real filter/score pipeline (spec.md §4.5 Non-goals
// explicitly exclude multi-node scheduling policy). The reconcile-loop
// shape reuses internal/controllerutil, the same generalised
// workqueue worker pool the Kubelet is built on.
package scheduler

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/controllerutil"
	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/resource"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/internal/watchbus"
	"github.com/krust-sh/krust/pkg/api"
)

// Scheduler binds unscheduled Pods to nodeName.
type Scheduler struct {
	svc      *resource.Service
	nodeName string
	ctrl     *controllerutil.Controller
}

// New constructs a Scheduler that binds pods to nodeName.
func New(svc *resource.Service, nodeName string, workers int) *Scheduler {
	s := &Scheduler{svc: svc, nodeName: nodeName}
	s.ctrl = controllerutil.New("scheduler", workers, s)
	return s
}

// Run subscribes to Pod events and drives the reconcile loop until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context, bus *watchbus.Bus) error {
	sub, err := bus.Subscribe(ctx, "Pod", "", 0)
	if err != nil {
		return fmt.Errorf("scheduler: failed to subscribe to pod events: %w", err)
	}
	defer sub.Close()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.Type == api.Deleted {
					continue
				}
				doc, err := document.Parse(ev.Object)
				if err != nil {
					continue
				}
				if document.GetString(doc, "spec", "nodeName") != "" {
					continue
				}
				ns := document.GetString(doc, "metadata", "namespace")
				name := document.GetString(doc, "metadata", "name")
				s.ctrl.Enqueue(ns + "/" + name)
			}
		}
	}()

	s.ctrl.Run(ctx)
	return nil
}

// Reconcile implements controllerutil.Reconciler: bind key's Pod to
// this Scheduler's node if it has none yet.
func (s *Scheduler) Reconcile(ctx context.Context, key string) error {
	namespace, name, err := splitKey(key)
	if err != nil {
		return err
	}

	podKind, _ := api.ByKind("Pod")
	doc, err := s.svc.Get(ctx, podKind, namespace, name)
	if krusterr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if document.GetString(doc, "spec", "nodeName") != "" {
		return nil
	}
	if document.GetString(doc, "metadata", "deletionTimestamp") != "" {
		return nil
	}

	document.Set(doc, s.nodeName, "spec", "nodeName")
	rv := document.GetString(doc, "metadata", "resourceVersion")
	_, err = s.svc.Update(ctx, podKind, namespace, name, doc, store.Preconditions{ResourceVersion: rv})
	if krusterr.IsConflict(err) {
		// Another writer raced us; the watch event from that write will
		// re-enqueue this pod if it still needs binding.
		return nil
	}
	if err == nil {
		glog.V(3).Infof("Bound %s to node %s", document.Key("Pod", namespace, name), s.nodeName)
	}
	return err
}

func splitKey(key string) (namespace, name string, err error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("scheduler: malformed key %q", key)
}
