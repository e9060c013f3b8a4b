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

// Package localengine is krust's reference engine.Adapter: it
// supervises each container as a plain host process rather than
// talking to a real container runtime, consistent with spec.md's
// laptop-scale, single-node scope (Non-goals explicitly exclude real
// image pulling / containerd integration).
package localengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/krust-sh/krust/internal/engine"
)

var timeoutSignal = syscall.SIGTERM

type handle struct {
	mu      sync.Mutex
	spec    engine.ContainerSpec
	cmd     *exec.Cmd
	logs    bytes.Buffer
	phase   engine.Phase
	started time.Time
	ended   time.Time
	exit    int32
	reason  string
}

// Engine is the in-memory reference implementation of engine.Adapter.
type Engine struct {
	mu         sync.Mutex
	containers map[string]*handle
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{containers: map[string]*handle{}}
}

var _ engine.Adapter = (*Engine)(nil)

// PullImage is a no-op: localengine resolves "images" to a local
// command line rather than fetching anything over the network.
func (e *Engine) PullImage(ctx context.Context, image string) error {
	glog.V(4).Infof("localengine: treating image %q as already present", image)
	return nil
}

// CreateContainer registers a new container handle without starting
// it.
func (e *Engine) CreateContainer(ctx context.Context, spec engine.ContainerSpec) (string, error) {
	id := uuid.NewString()
	h := &handle{spec: spec, phase: engine.PhaseWaiting, reason: "ContainerCreating"}
	e.mu.Lock()
	e.containers[id] = h
	e.mu.Unlock()
	return id, nil
}

func (e *Engine) get(id string) (*handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.containers[id]
	if !ok {
		return nil, fmt.Errorf("localengine: unknown container %q", id)
	}
	return h, nil
}

// Start launches the container's command as a host process.
func (e *Engine) Start(ctx context.Context, id string) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.spec.Command) == 0 {
		h.phase = engine.PhaseRunning
		h.started = time.Now().UTC()
		return nil
	}

	cmd := exec.CommandContext(ctx, h.spec.Command[0], append(h.spec.Command[1:], h.spec.Args...)...)
	for k, v := range h.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = &h.logs
	cmd.Stderr = &h.logs
	if err := cmd.Start(); err != nil {
		h.phase = engine.PhaseTerminated
		h.reason = "StartError"
		h.exit = 1
		return fmt.Errorf("localengine: failed to start %s: %w", h.spec.Name, err)
	}
	h.cmd = cmd
	h.phase = engine.PhaseRunning
	h.started = time.Now().UTC()

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.phase = engine.PhaseTerminated
		h.ended = time.Now().UTC()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				h.exit = int32(exitErr.ExitCode())
			} else {
				h.exit = 1
			}
			h.reason = "Error"
		} else {
			h.reason = "Completed"
		}
	}()
	return nil
}

// Stop signals the container's process to exit, killing it after
// timeout if it hasn't.
func (e *Engine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(timeoutSignal)
	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
	}
	return nil
}

// Remove forgets the container handle.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	delete(e.containers, id)
	e.mu.Unlock()
	return nil
}

// Inspect reports the container's current phase.
func (e *Engine) Inspect(ctx context.Context, id string) (engine.State, error) {
	h, err := e.get(id)
	if err != nil {
		return engine.State{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return engine.State{
		Phase:      h.phase,
		Reason:     h.reason,
		ExitCode:   h.exit,
		StartedAt:  h.started,
		FinishedAt: h.ended,
	}, nil
}

// ResolveAddr returns the loopback address the Kubelet's port
// allocator assigned to containerPort, so the Port-Forward Gateway can
// dial straight through to it.
func (e *Engine) ResolveAddr(ctx context.Context, id string, containerPort int32) (string, error) {
	h, err := e.get(id)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	hostPort, ok := h.spec.Ports[containerPort]
	if !ok {
		return "", fmt.Errorf("localengine: container %s does not expose port %d", h.spec.Name, containerPort)
	}
	return fmt.Sprintf("127.0.0.1:%d", hostPort), nil
}

// Logs returns the buffered stdout/stderr captured so far. follow is
// accepted for interface symmetry with a real runtime but localengine
// always returns a snapshot, since processes here are short-lived
// reference containers rather than long-running pods with a log
// rotation story.
func (e *Engine) Logs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	h, err := e.get(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return io.NopCloser(bytes.NewReader(h.logs.Bytes())), nil
}
