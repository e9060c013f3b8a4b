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
	"context"
	"net/http/httptest"
	"testing"
)

type stubResolver struct{}

func (stubResolver) ResolvePort(ctx context.Context, namespace, pod string, containerPort int32) (string, error) {
	return "127.0.0.1:0", nil
}

func TestServeHTTPRejectsRequestWithoutUpgradeHeader(t *testing.T) {
	g := New(stubResolver{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/portforward", nil)

	g.ServeHTTP(rec, req, "default", "nginx")

	if rec.Code < 400 {
		t.Fatalf("got status %d, want an error status for a non-upgrade request", rec.Code)
	}
}
