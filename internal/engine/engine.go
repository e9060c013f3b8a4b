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

// Package engine defines the Kubelet's container runtime boundary
// (SPEC_FULL.md §4.6). spec.md scopes krust to a single laptop-scale
// node with no real container runtime dependency, so Adapter is the
// seam a real containerd/CRI shim could later sit behind; internal/
// engine/localengine is the reference implementation this repo ships,
// running each container as a supervised host process.
package engine

import (
	"context"
	"io"
	"time"
)

// ContainerSpec is the subset of api.Container the engine needs to
// start a container.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	Args    []string
	Env     map[string]string
	// Ports maps containerPort to the local hostPort the Kubelet's
	// port allocator assigned it.
	Ports map[int32]int32
}

// State mirrors api.ContainerState's discriminated union, reported by
// Inspect.
type State struct {
	Phase      Phase
	Reason     string
	ExitCode   int32
	StartedAt  time.Time
	FinishedAt time.Time
}

// Phase enumerates the engine-level container lifecycle states the
// Kubelet maps onto api.ContainerState.
type Phase string

const (
	PhaseWaiting    Phase = "Waiting"
	PhaseRunning    Phase = "Running"
	PhaseTerminated Phase = "Terminated"
)

// Adapter is the engine seam: pull, create, start, stop, remove,
// inspect, attach, and tail logs for one container.
type Adapter interface {
	PullImage(ctx context.Context, image string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (handle string, err error)
	Start(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string, timeout time.Duration) error
	Remove(ctx context.Context, handle string) error
	Inspect(ctx context.Context, handle string) (State, error)
	// ResolveAddr returns the local TCP address the given containerPort
	// of this container is reachable on, for the Port-Forward Gateway.
	ResolveAddr(ctx context.Context, handle string, containerPort int32) (addr string, err error)
	Logs(ctx context.Context, handle string, follow bool) (io.ReadCloser, error)
}
