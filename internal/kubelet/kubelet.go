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

// Package kubelet is krust's kubelet-equivalent (SPEC_FULL.md §4.6): it
// watches for Pods bound to its node, drives their containers through
// the engine.Adapter seam, reports ContainerStatus/PodStatus back
// through the Resource Service, and backs the Port-Forward Gateway's
// PortResolver. The reconcile-loop shape is grounded on the teacher's
// controller/generic watch-driven worker pool
// (internal/controllerutil), generalised from "apply a CRD's desired
// state" to "drive a Pod's containers to match its spec".
package kubelet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/krust-sh/krust/internal/controllerutil"
	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/engine"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/resource"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/internal/watchbus"
	"github.com/krust-sh/krust/pkg/api"
)

// Kubelet owns the set of pods bound to nodeName.
type Kubelet struct {
	svc      *resource.Service
	engine   engine.Adapter
	nodeName string
	ports    *PortAllocator
	ctrl     *controllerutil.Controller

	mu      sync.Mutex
	handles map[string]podHandle
}

type podHandle struct {
	containerIDs map[string]string          // container name -> engine handle
	hostPorts    map[string]map[int32]int32 // container name -> containerPort -> hostPort
}

// New constructs a Kubelet for nodeName, backed by adapter.
func New(svc *resource.Service, adapter engine.Adapter, nodeName string, workers int) *Kubelet {
	k := &Kubelet{
		svc:      svc,
		engine:   adapter,
		nodeName: nodeName,
		ports:    NewPortAllocator(),
		handles:  map[string]podHandle{},
	}
	k.ctrl = controllerutil.New("kubelet", workers, k)
	return k
}

// Run starts the reconcile loop and a Watch Bus subscription feeding
// it pod-changed keys, blocking until ctx is cancelled.
func (k *Kubelet) Run(ctx context.Context, bus *watchbus.Bus) error {
	sub, err := bus.Subscribe(ctx, "Pod", "", 0)
	if err != nil {
		return fmt.Errorf("kubelet: failed to subscribe to pod events: %w", err)
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
				if key := podKeyFromEvent(ev); key != "" {
					k.ctrl.Enqueue(key)
				}
			}
		}
	}()

	k.ctrl.Run(ctx)
	return nil
}

func podKeyFromEvent(ev api.WatchEvent) string {
	doc, err := document.Parse(ev.Object)
	if err != nil {
		return ""
	}
	ns := document.GetString(doc, "metadata", "namespace")
	name := document.GetString(doc, "metadata", "name")
	if name == "" {
		return ""
	}
	return ns + "/" + name
}

// Reconcile drives one pod's containers toward its spec. Implements
// controllerutil.Reconciler.
func (k *Kubelet) Reconcile(ctx context.Context, key string) error {
	namespace, name, err := splitKey(key)
	if err != nil {
		return err
	}

	podKind, _ := api.ByKind("Pod")
	doc, err := k.svc.Get(ctx, podKind, namespace, name)
	if krusterr.IsNotFound(err) {
		k.teardown(ctx, key)
		return nil
	}
	if err != nil {
		return err
	}

	nodeName := document.GetString(doc, "spec", "nodeName")
	if nodeName != k.nodeName {
		return nil
	}

	if document.GetString(doc, "metadata", "deletionTimestamp") != "" {
		k.teardown(ctx, key)
		return k.finalizeTeardown(ctx, podKind, namespace, name, doc)
	}

	statuses, phase, err := k.ensureContainers(ctx, key, doc)
	if err != nil {
		return err
	}

	status := map[string]interface{}{
		"phase":             string(phase),
		"containerStatuses": statuses,
	}
	_, err = k.svc.UpdateStatus(ctx, podKind, namespace, name, status, store.Preconditions{})
	if err != nil && !krusterr.IsConflict(err) {
		return err
	}
	return nil
}

func (k *Kubelet) ensureContainers(ctx context.Context, key string, doc document.Doc) ([]map[string]interface{}, api.PodPhase, error) {
	k.mu.Lock()
	h, ok := k.handles[key]
	k.mu.Unlock()
	if !ok {
		h = podHandle{containerIDs: map[string]string{}, hostPorts: map[string]map[int32]int32{}}
	}

	containers, _ := document.Get(doc, "spec", "containers").([]interface{})
	statuses := make([]map[string]interface{}, 0, len(containers))
	allRunning := true

	for _, c := range containers {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		cname, _ := cm["name"].(string)

		id, started := h.containerIDs[cname]
		if !started {
			image, _ := cm["image"].(string)
			hostPorts, err := k.allocatePorts(cm)
			if err != nil {
				return nil, api.PodPending, err
			}
			h.hostPorts[cname] = hostPorts

			spec := engine.ContainerSpec{
				Name:    cname,
				Image:   image,
				Command: toStringSlice(cm["command"]),
				Args:    toStringSlice(cm["args"]),
				Ports:   hostPorts,
			}
			if err := k.engine.PullImage(ctx, image); err != nil {
				return nil, api.PodPending, err
			}
			id, err = k.engine.CreateContainer(ctx, spec)
			if err != nil {
				return nil, api.PodPending, err
			}
			if err := k.engine.Start(ctx, id); err != nil {
				return nil, api.PodFailed, err
			}
			h.containerIDs[cname] = id
		}

		state, err := k.engine.Inspect(ctx, id)
		if err != nil {
			return nil, api.PodPending, err
		}
		if state.Phase != engine.PhaseRunning {
			allRunning = false
		}
		statuses = append(statuses, map[string]interface{}{
			"name":  cname,
			"ready": state.Phase == engine.PhaseRunning,
			"state": containerStateDoc(state),
			"portMappings": h.hostPorts[cname],
		})
	}

	k.mu.Lock()
	k.handles[key] = h
	k.mu.Unlock()

	phase := api.PodPending
	if allRunning && len(statuses) > 0 {
		phase = api.PodRunning
	}
	return statuses, phase, nil
}

func (k *Kubelet) allocatePorts(container map[string]interface{}) (map[int32]int32, error) {
	out := map[int32]int32{}
	ports, _ := container["ports"].([]interface{})
	for _, p := range ports {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		cp := document.GetInt64(pm, "containerPort")
		hostPort, err := k.ports.Allocate()
		if err != nil {
			return nil, err
		}
		out[int32(cp)] = hostPort
	}
	return out, nil
}

func containerStateDoc(s engine.State) map[string]interface{} {
	switch s.Phase {
	case engine.PhaseRunning:
		return map[string]interface{}{"running": map[string]interface{}{"startedAt": s.StartedAt.Format(time.RFC3339)}}
	case engine.PhaseTerminated:
		return map[string]interface{}{"terminated": map[string]interface{}{
			"exitCode":   s.ExitCode,
			"reason":     s.Reason,
			"finishedAt": s.FinishedAt.Format(time.RFC3339),
		}}
	default:
		return map[string]interface{}{"waiting": map[string]interface{}{"reason": s.Reason}}
	}
}

func (k *Kubelet) teardown(ctx context.Context, key string) {
	k.mu.Lock()
	h, ok := k.handles[key]
	if ok {
		delete(k.handles, key)
	}
	k.mu.Unlock()
	if !ok {
		return
	}
	for name, id := range h.containerIDs {
		_ = k.engine.Stop(ctx, id, 10*time.Second)
		_ = k.engine.Remove(ctx, id)
		for _, hostPort := range h.hostPorts[name] {
			k.ports.Release(hostPort)
		}
	}
}

// finalizeTeardown removes the kubelet's cleanup finalizer once every
// container has been stopped, letting the Resource Service complete
// the delete (spec.md §4.1 graceful-deletion handshake).
func (k *Kubelet) finalizeTeardown(ctx context.Context, kind api.KindInfo, namespace, name string, doc document.Doc) error {
	const finalizerName = "krust.sh/kubelet-cleanup"
	finalizers := document.GetStringSlice(doc, "metadata", "finalizers")
	filtered := finalizers[:0]
	for _, f := range finalizers {
		if f != finalizerName {
			filtered = append(filtered, f)
		}
	}
	if len(filtered) == len(finalizers) {
		return nil
	}
	document.Set(doc, toInterfaceSlice(filtered), "metadata", "finalizers")
	_, err := k.svc.Update(ctx, kind, namespace, name, doc, store.Preconditions{})
	return err
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ResolvePort implements portforward.PortResolver: it finds the
// containerPort -> hostPort mapping recorded for pod and returns the
// loopback address the Port-Forward Gateway should dial.
func (k *Kubelet) ResolvePort(ctx context.Context, namespace, pod string, containerPort int32) (string, error) {
	key := namespace + "/" + pod
	k.mu.Lock()
	h, ok := k.handles[key]
	k.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("kubelet: no running containers for pod %s/%s", namespace, pod)
	}
	for _, ports := range h.hostPorts {
		if hostPort, ok := ports[containerPort]; ok {
			return fmt.Sprintf("127.0.0.1:%d", hostPort), nil
		}
	}
	return "", fmt.Errorf("kubelet: pod %s/%s does not expose containerPort %d", namespace, pod, containerPort)
}

func splitKey(key string) (namespace, name string, err error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("kubelet: malformed key %q", key)
	}
	return parts[0], parts[1], nil
}
