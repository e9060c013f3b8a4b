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

package controllerutil

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// WaitForCondition polls cond until it returns true or ctx is
// cancelled, adapted from the teacher's
// third_party/kubernetes/controller.go WaitForCacheSync wrapper: same
// "poll with a short interval" shape, generalised from "wait for an
// informer cache" to any boot-time readiness gate. It logs once cond
// holds and returns an error wrapping ctx.Err() if ctx ends first.
func WaitForCondition(ctx context.Context, name string, interval time.Duration, cond func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		if cond() {
			glog.V(2).Infof("%s: ready after %s", name, time.Since(start))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: timed out waiting for readiness: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}
