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

// Package resource is the Resource Service (SPEC_FULL.md §4.4): it
// sits between the HTTP Front End and the Persistent Store, owning
// name/label/annotation validation, immutable-field enforcement, and
// the namespace-delete cascade. It plays the same mediating role the
// teacher's controller/common.ResourceStatesController plays between a
// raw dynamic client and a reconcile loop, generalised to every
// registered kind instead of one CRD.
package resource

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

// Service is the Resource Service.
type Service struct {
	st *store.Store
}

// New constructs a Service over st.
func New(st *store.Store) *Service {
	return &Service{st: st}
}

// Create validates and persists a new object of kind.
func (s *Service) Create(ctx context.Context, kind api.KindInfo, doc document.Doc) (document.Doc, error) {
	name := document.GetString(doc, "metadata", "name")
	namespace := document.GetString(doc, "metadata", "namespace")

	if kind.Scope == api.Namespaced && namespace == "" {
		namespace = "default"
		document.Set(doc, namespace, "metadata", "namespace")
	}
	if kind.Scope == api.Cluster && namespace != "" {
		return nil, krusterr.NewInvalid(kind.Kind, name, "namespace must not be set on a cluster-scoped resource")
	}

	if err := validateName(kind.Kind, name); err != nil {
		return nil, err
	}
	if err := validateMetadata(kind.Kind, name, doc); err != nil {
		return nil, err
	}
	if kind.Scope == api.Namespaced && namespace != "default" {
		if _, err := s.st.Get(ctx, mustKind("Namespace"), "", namespace); err != nil {
			return nil, krusterr.NewInvalid(kind.Kind, name, "namespace "+namespace+" does not exist")
		}
	}
	if v, ok := kindValidators[kind.Kind]; ok {
		if err := v.validateCreate(doc); err != nil {
			return nil, err
		}
	}

	document.Set(doc, "", "metadata", "deletionTimestamp")
	document.Delete(doc, "metadata", "deletionTimestamp")

	return s.st.Create(ctx, kind, doc)
}

// Get fetches one object. An object being deleted is returned with its
// deletionTimestamp set until its row is removed; after that the store
// reports NotFound.
func (s *Service) Get(ctx context.Context, kind api.KindInfo, namespace, name string) (document.Doc, error) {
	return s.st.Get(ctx, kind, namespace, name)
}

// List returns every live object of kind, narrowed by labelSelector.
func (s *Service) List(ctx context.Context, kind api.KindInfo, namespace string, labelSelector map[string]string) (*store.ListResult, error) {
	return s.st.List(ctx, kind, namespace, labelSelector)
}

// Update validates newDoc against the currently stored object
// (immutable fields, name/namespace unchanged) and persists it.
func (s *Service) Update(ctx context.Context, kind api.KindInfo, namespace, name string, newDoc document.Doc, pre store.Preconditions) (document.Doc, error) {
	current, err := s.st.Get(ctx, kind, namespace, name)
	if err != nil {
		return nil, err
	}
	if document.GetString(current, "metadata", "deletionTimestamp") != "" {
		if len(document.GetStringSlice(newDoc, "metadata", "finalizers")) >= len(document.GetStringSlice(current, "metadata", "finalizers")) {
			return nil, krusterr.NewInvalid(kind.Kind, name, "object is being deleted, only finalizer removal is permitted")
		}
	}
	if err := validateMetadata(kind.Kind, name, newDoc); err != nil {
		return nil, err
	}
	if v, ok := kindValidators[kind.Kind]; ok {
		if err := v.validateUpdate(current, newDoc); err != nil {
			return nil, err
		}
	}
	if kind.Kind == "Pod" {
		// A Pod's status is written only through UpdateStatus; an ordinary
		// update keeps the stored status.
		if status := document.Get(current, "status"); status != nil {
			document.Set(newDoc, status, "status")
		} else {
			document.Delete(newDoc, "status")
		}
	}
	updated, err := s.st.Update(ctx, kind, namespace, name, newDoc, pre)
	if err != nil {
		return nil, err
	}
	// Dropping the last finalizer of an object being deleted completes
	// the delete: the row is removed and a DELETED event emitted.
	if document.GetString(updated, "metadata", "deletionTimestamp") != "" &&
		len(document.GetStringSlice(updated, "metadata", "finalizers")) == 0 {
		return s.st.Delete(ctx, kind, namespace, name, store.Preconditions{}, 0)
	}
	return updated, nil
}

// UpdateStatus persists a status-subresource write.
func (s *Service) UpdateStatus(ctx context.Context, kind api.KindInfo, namespace, name string, status interface{}, pre store.Preconditions) (document.Doc, error) {
	return s.st.UpdateStatus(ctx, kind, namespace, name, status, pre)
}

// Delete removes (or, with finalizers pending, soft-deletes) an
// object. Deleting a Namespace additionally cascades: every namespaced
// kind's objects in that namespace are deleted first, mirroring
// upstream's namespace-controller drain behaviour
// (SPEC_FULL.md §4.4 supplemented feature).
func (s *Service) Delete(ctx context.Context, kind api.KindInfo, namespace, name string, pre store.Preconditions, gracePeriod time.Duration) (document.Doc, error) {
	if kind.Kind == "Namespace" {
		if err := s.drainNamespace(ctx, name); err != nil {
			return nil, err
		}
	}
	return s.st.Delete(ctx, kind, namespace, name, pre, gracePeriod)
}

// drainNamespace deletes every namespaced object living in namespace,
// across every registered namespaced kind, before the Namespace object
// itself is allowed to go away.
func (s *Service) drainNamespace(ctx context.Context, namespace string) error {
	for _, k := range api.Registry {
		if k.Scope != api.Namespaced {
			continue
		}
		result, err := s.st.List(ctx, k, namespace, nil)
		if err != nil {
			return err
		}
		for _, item := range result.Items {
			itemName := document.GetString(item, "metadata", "name")
			if _, err := s.st.Delete(ctx, k, namespace, itemName, store.Preconditions{}, 0); err != nil && !krusterr.IsNotFound(err) {
				return err
			}
			glog.V(4).Infof("Drained %s as part of namespace %s deletion", document.Key(k.Kind, namespace, itemName), namespace)
		}
	}
	return nil
}

func mustKind(kind string) api.KindInfo {
	k, ok := api.ByKind(kind)
	if !ok {
		panic("unregistered kind: " + kind)
	}
	return k
}
