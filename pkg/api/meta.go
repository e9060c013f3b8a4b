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

// Package api defines the wire-level resource envelope krust serves over
// HTTP: the common TypeMeta/ObjectMeta fields every kind carries, plus the
// list and status envelopes the standard client expects.
package api

import (
	"encoding/json"
	"time"
)

// TypeMeta identifies the kind and API version of an object, inlined
// into every resource the same way upstream Kubernetes does it.
type TypeMeta struct {
	Kind       string `json:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ObjectMeta is the envelope common to every resource object, per the
// invariants in SPEC_FULL.md §3.
type ObjectMeta struct {
	Name              string            `json:"name,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	UID               string            `json:"uid,omitempty"`
	ResourceVersion   string            `json:"resourceVersion,omitempty"`
	Generation        int64             `json:"generation,omitempty"`
	CreationTimestamp time.Time         `json:"creationTimestamp,omitempty"`
	DeletionTimestamp *time.Time        `json:"deletionTimestamp,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
	Finalizers        []string          `json:"finalizers,omitempty"`
}

// HasFinalizer returns true if the named finalizer is present.
//
// Grounded on the teacher's dynamic/object.HasFinalizer helper, adapted
// from metav1.Object accessor methods to a concrete struct field.
func (m *ObjectMeta) HasFinalizer(name string) bool {
	for _, f := range m.Finalizers {
		if f == name {
			return true
		}
	}
	return false
}

// AddFinalizer adds name to Finalizers if not already present.
func (m *ObjectMeta) AddFinalizer(name string) {
	if m.HasFinalizer(name) {
		return
	}
	m.Finalizers = append(m.Finalizers, name)
}

// RemoveFinalizer removes name from Finalizers if present.
func (m *ObjectMeta) RemoveFinalizer(name string) {
	for i, f := range m.Finalizers {
		if f == name {
			m.Finalizers = append(m.Finalizers[:i], m.Finalizers[i+1:]...)
			return
		}
	}
}

// IsBeingDeleted reports whether DeletionTimestamp has been set.
func (m *ObjectMeta) IsBeingDeleted() bool {
	return m.DeletionTimestamp != nil
}

// ListMeta is the metadata carried by a list envelope: just the
// resourceVersion the snapshot was taken at (SPEC_FULL.md §4.1, list()).
type ListMeta struct {
	ResourceVersion string `json:"resourceVersion,omitempty"`
}

// List is the generic `{kind, apiVersion, metadata, items}` envelope
// every collection response uses, per spec.md §6.
type List struct {
	TypeMeta `json:",inline"`
	Metadata ListMeta          `json:"metadata"`
	Items    []json.RawMessage `json:"items"`
}

// WatchEventType enumerates the watch event kinds spec.md §3/§4.2 define.
type WatchEventType string

const (
	Added     WatchEventType = "ADDED"
	Modified  WatchEventType = "MODIFIED"
	Deleted   WatchEventType = "DELETED"
	Bookmark  WatchEventType = "BOOKMARK"
	ErrorType WatchEventType = "ERROR"
)

// WatchEvent is one line of a `watch=true` streaming response.
type WatchEvent struct {
	Type   WatchEventType  `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Status is the Kubernetes-shaped error body, per spec.md §6/§7.
type Status struct {
	TypeMeta `json:",inline"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Code     int    `json:"code,omitempty"`
}
