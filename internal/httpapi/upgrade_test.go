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

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPortForwardRouteRejectsNonUpgradeRequest(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/pods/nginx/portforward", nil)
	h.ServeHTTP(rec, req)

	if rec.Code < 400 {
		t.Fatalf("got status %d, want an error status without an Upgrade header", rec.Code)
	}
}
