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

package resource

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "krust.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func namespaceDoc(name string) document.Doc {
	return document.Doc{
		"kind":       "Namespace",
		"apiVersion": "v1",
		"metadata":   map[string]interface{}{"name": name},
	}
}

func podDoc(namespace, name string) document.Doc {
	return document.Doc{
		"kind":       "Pod",
		"apiVersion": "v1",
		"metadata":   map[string]interface{}{"name": name, "namespace": namespace},
		"spec": map[string]interface{}{
			"containers": []interface{}{map[string]interface{}{"name": "nginx", "image": "nginx:1.25"}},
		},
	}
}

func TestServiceCreateDefaultsToDefaultNamespace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	podKind, _ := api.ByKind("Pod")

	doc, err := svc.Create(ctx, podKind, podDoc("", "nginx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if document.GetString(doc, "metadata", "namespace") != "default" {
		t.Fatalf("expected namespace to default to 'default', got %q", document.GetString(doc, "metadata", "namespace"))
	}
}

func TestServiceCreateRejectsInvalidName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	podKind, _ := api.ByKind("Pod")

	_, err := svc.Create(ctx, podKind, podDoc("default", "Invalid_Name"))
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error, got %v", err)
	}
}

func TestServiceCreateRejectsClusterScopedWithNamespace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	nsKind, _ := api.ByKind("Namespace")

	doc := namespaceDoc("team-a")
	document.Set(doc, "default", "metadata", "namespace")
	_, err := svc.Create(ctx, nsKind, doc)
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error for namespaced cluster-scoped object, got %v", err)
	}
}

func TestServiceCreateRejectsMissingNamespace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	podKind, _ := api.ByKind("Pod")

	_, err := svc.Create(ctx, podKind, podDoc("team-a", "nginx"))
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error for nonexistent namespace, got %v", err)
	}
}

func TestServiceCreateInNonDefaultNamespaceSucceedsOnceNamespaceExists(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	nsKind, _ := api.ByKind("Namespace")
	podKind, _ := api.ByKind("Pod")

	if _, err := svc.Create(ctx, nsKind, namespaceDoc("team-a")); err != nil {
		t.Fatalf("Create namespace: %v", err)
	}
	if _, err := svc.Create(ctx, podKind, podDoc("team-a", "nginx")); err != nil {
		t.Fatalf("Create pod in new namespace: %v", err)
	}
}

func TestServiceUpdateRejectsImmutablePodSpecChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	podKind, _ := api.ByKind("Pod")

	created, err := svc.Create(ctx, podKind, podDoc("default", "nginx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rv := document.GetString(created, "metadata", "resourceVersion")

	mutated := podDoc("default", "nginx")
	document.Set(mutated, "nginx:1.27", "spec", "containers", "0", "image")
	_, err = svc.Update(ctx, podKind, "default", "nginx", mutated, store.Preconditions{ResourceVersion: rv})
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error for immutable spec change, got %v", err)
	}
}

func TestServiceDeleteCascadesNamespaceDrain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	nsKind, _ := api.ByKind("Namespace")
	podKind, _ := api.ByKind("Pod")

	if _, err := svc.Create(ctx, nsKind, namespaceDoc("team-a")); err != nil {
		t.Fatalf("Create namespace: %v", err)
	}
	if _, err := svc.Create(ctx, podKind, podDoc("team-a", "nginx")); err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	if _, err := svc.Delete(ctx, nsKind, "", "team-a", store.Preconditions{}, 0); err != nil {
		t.Fatalf("Delete namespace: %v", err)
	}

	if _, err := svc.Get(ctx, podKind, "team-a", "nginx"); !krusterr.IsNotFound(err) {
		t.Fatalf("expected pod to be drained along with its namespace, got %v", err)
	}
}
