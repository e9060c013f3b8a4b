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

// NamespacePhase mirrors upstream Kubernetes' two-state namespace
// lifecycle. krust neither sets nor checks status.phase: a create into a
// namespace is checked only for the namespace's existence
// (SPEC_FULL.md §4.4).
type NamespacePhase string

const (
	NamespaceActive      NamespacePhase = "Active"
	NamespaceTerminating NamespacePhase = "Terminating"
)

type NamespaceStatus struct {
	Phase NamespacePhase `json:"phase,omitempty"`
}

type Namespace struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Status     NamespaceStatus `json:"status,omitempty"`
}

// NodeStatus carries a fixed allocatable value seeded with the Node at
// boot, for visibility only (SPEC_FULL.md §4.4); it is not an enforced
// limit and nothing reads it.
type NodeStatus struct {
	Allocatable map[string]string `json:"allocatable,omitempty"`
	Ready       bool              `json:"ready"`
}

// Node represents the single node krust schedules onto (spec.md §4.5).
type Node struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Status     NodeStatus `json:"status,omitempty"`
}
