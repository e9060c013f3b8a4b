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
	"sync"
	"testing"
)

func TestPortAllocatorAllocateWithinRange(t *testing.T) {
	p := NewPortAllocator()
	port, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port < portRangeStart || port >= portRangeEnd {
		t.Fatalf("allocated port %d out of range [%d, %d)", port, portRangeStart, portRangeEnd)
	}
}

func TestPortAllocatorDoesNotReissueInUsePort(t *testing.T) {
	p := NewPortAllocator()
	seen := map[int32]bool{}
	for i := 0; i < 20; i++ {
		port, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[port] {
			t.Fatalf("port %d allocated twice while still in use", port)
		}
		seen[port] = true
	}
}

func TestPortAllocatorReleaseAllowsReuse(t *testing.T) {
	p := NewPortAllocator()
	port, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p.Release(port)
	if p.inUse[port] {
		t.Fatalf("port %d should no longer be marked in use after Release", port)
	}
}

func TestPortAllocatorConcurrentAllocateNeverDuplicates(t *testing.T) {
	p := NewPortAllocator()
	const n = 16
	var wg sync.WaitGroup
	ports := make(chan int32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := p.Allocate()
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			ports <- port
		}()
	}
	wg.Wait()
	close(ports)

	seen := map[int32]bool{}
	for port := range ports {
		if seen[port] {
			t.Fatalf("duplicate concurrent allocation of port %d", port)
		}
		seen[port] = true
	}
}
