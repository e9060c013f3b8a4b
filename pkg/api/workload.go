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

// PodTemplateSpec is the embedded template higher-level workloads use
// to stamp out Pods, same shape as upstream Kubernetes.
type PodTemplateSpec struct {
	Labels map[string]string `json:"labels,omitempty"`
	Spec   PodSpec           `json:"spec"`
}

// LabelSelector is a simple equality-based selector; krust does not
// implement the matchExpressions operators form (spec.md Non-goals:
// "strict API validation equivalent to upstream Kubernetes").
type LabelSelector struct {
	MatchLabels map[string]string `json:"matchLabels,omitempty"`
}

type DeploymentSpec struct {
	Replicas int32           `json:"replicas"`
	Selector LabelSelector   `json:"selector"`
	Template PodTemplateSpec `json:"template"`
}

type DeploymentStatus struct {
	Replicas           int32 `json:"replicas,omitempty"`
	ReadyReplicas      int32 `json:"readyReplicas,omitempty"`
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// Deployment gets real reconciliation (Deployment->ReplicaSet->Pod
// fan-out) per SPEC_FULL.md §4.4's supplemented feature.
type Deployment struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Spec       DeploymentSpec   `json:"spec"`
	Status     DeploymentStatus `json:"status,omitempty"`
}

type ReplicaSetSpec struct {
	Replicas int32           `json:"replicas"`
	Selector LabelSelector   `json:"selector"`
	Template PodTemplateSpec `json:"template"`
}

type ReplicaSetStatus struct {
	Replicas      int32 `json:"replicas,omitempty"`
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`
}

type ReplicaSet struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Spec       ReplicaSetSpec   `json:"spec"`
	Status     ReplicaSetStatus `json:"status,omitempty"`
}

type JobSpec struct {
	Template PodTemplateSpec `json:"template"`
}

type JobStatus struct {
	Succeeded int32 `json:"succeeded,omitempty"`
	Failed    int32 `json:"failed,omitempty"`
}

// Job is persisted with full CRUD but is not fanned out into Pods by
// any controller in this implementation (spec.md §4.4 explicitly
// allows storage-only support for kinds beyond the Deployment chain).
type Job struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Spec       JobSpec   `json:"spec"`
	Status     JobStatus `json:"status,omitempty"`
}
