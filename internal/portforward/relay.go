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

package portforward

import (
	"io"
	"sync"
)

// relay copies bytes in both directions between a and b until either
// side closes, then closes the other. Used by the SPDY transport,
// which (unlike the WebSocket transport's single multiplexed
// connection) gets one real net.Conn-shaped stream per port.
func relay(a, b io.ReadWriteCloser) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(a, b)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		closeBoth()
	}()
	wg.Wait()
}
