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

package kubelet

import (
	"fmt"
	"net"
	"sync"
)

// portRangeStart/End bound the ephemeral host ports the Kubelet hands
// out for each container's declared containerPorts, since krust runs
// every pod's containers as host processes sharing one loopback
// address rather than giving each pod its own network namespace
// (spec.md §4.6 Non-goals: no real pod networking).
const (
	portRangeStart = 20000
	portRangeEnd   = 40000
)

// PortAllocator hands out host ports for container ports, guarding its
// bookkeeping with a mutex since reconcile workers run concurrently.
type PortAllocator struct {
	mu     sync.Mutex
	next   int32
	inUse  map[int32]bool
}

// NewPortAllocator constructs an allocator over the default range.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{next: portRangeStart, inUse: map[int32]bool{}}
}

// Allocate reserves and returns a free host port, probing the OS to
// avoid handing out a port something outside krust is already using.
func (p *PortAllocator) Allocate() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < portRangeEnd-portRangeStart; i++ {
		port := p.next
		p.next++
		if p.next >= portRangeEnd {
			p.next = portRangeStart
		}
		if p.inUse[port] {
			continue
		}
		if !probeFree(port) {
			continue
		}
		p.inUse[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("portalloc: no free host ports in [%d, %d)", portRangeStart, portRangeEnd)
}

// Release frees port for reuse.
func (p *PortAllocator) Release(port int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func probeFree(port int32) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
