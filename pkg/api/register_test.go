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

package api

import "testing"

func TestByKindFindsRegisteredKind(t *testing.T) {
	k, ok := ByKind("Pod")
	if !ok {
		t.Fatalf("expected Pod to be registered")
	}
	if k.Resource != "pods" || k.Scope != Namespaced {
		t.Fatalf("unexpected KindInfo: %+v", k)
	}
}

func TestByKindUnknownKind(t *testing.T) {
	if _, ok := ByKind("Frobnicator"); ok {
		t.Fatalf("unregistered kind should not be found")
	}
}

func TestByResourceCoreGroup(t *testing.T) {
	k, ok := ByResource("", "v1", "namespaces")
	if !ok || k.Kind != "Namespace" {
		t.Fatalf("got %+v, %v", k, ok)
	}
}

func TestByResourceNamedGroup(t *testing.T) {
	k, ok := ByResource("apps", "v1", "deployments")
	if !ok || k.Kind != "Deployment" {
		t.Fatalf("got %+v, %v", k, ok)
	}
	if k.GroupVersion() != "apps/v1" {
		t.Fatalf("got %q", k.GroupVersion())
	}
}

func TestGroupVersionCoreGroupOmitsSlash(t *testing.T) {
	k, _ := ByKind("Pod")
	if k.GroupVersion() != "v1" {
		t.Fatalf("got %q, want v1", k.GroupVersion())
	}
}

func TestRegistryHasNoDuplicateRoutes(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Registry {
		route := k.Group + "/" + k.Version + "/" + k.Resource
		if seen[route] {
			t.Fatalf("duplicate route %q in Registry", route)
		}
		seen[route] = true
	}
}

func TestObjectMetaFinalizerHelpers(t *testing.T) {
	m := &ObjectMeta{}
	if m.HasFinalizer("krust.sh/kubelet-cleanup") {
		t.Fatalf("fresh ObjectMeta should have no finalizers")
	}
	m.AddFinalizer("krust.sh/kubelet-cleanup")
	m.AddFinalizer("krust.sh/kubelet-cleanup")
	if len(m.Finalizers) != 1 {
		t.Fatalf("AddFinalizer should be idempotent, got %v", m.Finalizers)
	}
	if !m.HasFinalizer("krust.sh/kubelet-cleanup") {
		t.Fatalf("expected finalizer present")
	}
	m.RemoveFinalizer("krust.sh/kubelet-cleanup")
	if m.HasFinalizer("krust.sh/kubelet-cleanup") {
		t.Fatalf("finalizer should have been removed")
	}
}

func TestObjectMetaIsBeingDeleted(t *testing.T) {
	m := &ObjectMeta{}
	if m.IsBeingDeleted() {
		t.Fatalf("fresh ObjectMeta should not be marked for deletion")
	}
}
