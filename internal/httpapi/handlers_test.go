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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/krust-sh/krust/internal/portforward"
	"github.com/krust-sh/krust/internal/resource"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/internal/watchbus"
)

type fakeResolver struct{}

func (fakeResolver) ResolvePort(ctx context.Context, namespace, pod string, containerPort int32) (string, error) {
	return "127.0.0.1:0", nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "krust.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := watchbus.New(st)
	svc := resource.New(st)
	pf := portforward.New(fakeResolver{})
	return NewRouter(svc, st, bus, pf)
}

func podBody(name string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"name": name},
		"spec": map[string]interface{}{
			"containers": []interface{}{map[string]interface{}{"name": "nginx", "image": "nginx:1.25"}},
		},
	})
	return b
}

func TestHandleHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestCreateThenGetPodRoundTrips(t *testing.T) {
	h := newTestServer(t)

	createRec := httptest.NewRecorder()
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces/default/pods", bytes.NewReader(podBody("nginx")))
	createReq.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create: got status %d, body %s", createRec.Code, createRec.Body.String())
	}

	getRec := httptest.NewRecorder()
	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/pods/nginx", nil)
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: got status %d, body %s", getRec.Code, getRec.Body.String())
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(getRec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	metadata, _ := doc["metadata"].(map[string]interface{})
	if metadata["name"] != "nginx" {
		t.Fatalf("got metadata %v", metadata)
	}
}

func TestGetUnknownPodReturns404Status(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/pods/ghost", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status["kind"] != "Status" || status["status"] != "Failure" {
		t.Fatalf("expected a Kubernetes-shaped Status body, got %v", status)
	}
}

func TestUnknownResourceReturns404(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/widgets", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

func TestListReturnsItemsWithResourceVersion(t *testing.T) {
	h := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces/default/pods", bytes.NewReader(podBody("nginx")))
	createReq.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), createReq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/pods", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var list map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	items, _ := list["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	metadata, _ := list["metadata"].(map[string]interface{})
	if metadata["resourceVersion"] == "" {
		t.Fatalf("expected a non-empty list resourceVersion")
	}
}

func TestDeletePod(t *testing.T) {
	h := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces/default/pods", bytes.NewReader(podBody("nginx")))
	createReq.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), createReq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/namespaces/default/pods/nginx", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got status %d, body %s", rec.Code, rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/default/pods/nginx", nil)
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected pod to be gone, got status %d", getRec.Code)
	}
}

func TestParseLabelSelectorParsesPairs(t *testing.T) {
	sel, err := parseLabelSelector("app=web,tier=frontend")
	if err != nil {
		t.Fatalf("parseLabelSelector: %v", err)
	}
	if sel["app"] != "web" || sel["tier"] != "frontend" {
		t.Fatalf("got %v", sel)
	}
}

func TestParseLabelSelectorEmptyIsNil(t *testing.T) {
	sel, err := parseLabelSelector("")
	if err != nil || sel != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", sel, err)
	}
}

func TestParseLabelSelectorRejectsMalformedPair(t *testing.T) {
	if _, err := parseLabelSelector("app"); err == nil {
		t.Fatalf("expected an error for a selector missing '='")
	}
}

func TestCoreDiscoveryListsV1(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	versions, _ := body["versions"].([]interface{})
	if len(versions) != 1 || versions[0] != "v1" {
		t.Fatalf("got %v", versions)
	}
}
