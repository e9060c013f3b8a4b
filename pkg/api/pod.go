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

// PodPhase is the coarse-grained lifecycle state from spec.md §3.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
)

// RestartPolicy is stored with the Pod spec. The Kubelet does not read
// it: terminated containers are not restarted, and the Kubelet sets
// status.phase only to Pending or Running.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "Always"
	RestartOnFailure RestartPolicy = "OnFailure"
	RestartNever     RestartPolicy = "Never"
)

// ContainerPort declares a port a container listens on; Kubelet maps it
// to a host port for the Port-Forward Gateway to use (spec.md §4.6).
type ContainerPort struct {
	Name          string `json:"name,omitempty"`
	ContainerPort int32  `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// EnvVar is a single environment variable passed to a container.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Container is one entry in PodSpec.Containers.
type Container struct {
	Name  string          `json:"name"`
	Image string          `json:"image"`
	Cmd   []string        `json:"command,omitempty"`
	Args  []string        `json:"args,omitempty"`
	Env   []EnvVar        `json:"env,omitempty"`
	Ports []ContainerPort `json:"ports,omitempty"`
}

// PodSpec is immutable after creation except for Tolerations, the
// active-deadline field, and NodeName going from unset to set once
// (spec.md §4.4).
type PodSpec struct {
	NodeName                     string        `json:"nodeName,omitempty"`
	Containers                   []Container   `json:"containers"`
	RestartPolicy                RestartPolicy `json:"restartPolicy,omitempty"`
	TerminationGracePeriodSecond *int64        `json:"terminationGracePeriodSeconds,omitempty"`

	// Tolerations and ActiveDeadlineSeconds are the two fields spec.md
	// §4.4 explicitly excludes from the immutability rule.
	Tolerations           []string `json:"tolerations,omitempty"`
	ActiveDeadlineSeconds *int64   `json:"activeDeadlineSeconds,omitempty"`
}

// ContainerStateRunning/Terminated/Waiting mirror the three container
// states the Kubelet reflects into status (SPEC_FULL.md §4.6 step 3).
type ContainerStateWaiting struct {
	Reason string `json:"reason,omitempty"`
}

type ContainerStateRunning struct {
	StartedAt string `json:"startedAt,omitempty"`
}

type ContainerStateTerminated struct {
	ExitCode int32  `json:"exitCode"`
	Reason   string `json:"reason,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// ContainerState is a discriminated union; exactly one field is set.
type ContainerState struct {
	Waiting    *ContainerStateWaiting    `json:"waiting,omitempty"`
	Running    *ContainerStateRunning    `json:"running,omitempty"`
	Terminated *ContainerStateTerminated `json:"terminated,omitempty"`
}

// ContainerStatus reports the Kubelet's last-observed state for one
// container, including the host port mapping the Kubelet allocated
// (spec.md §4.6). The Port-Forward Gateway resolves ports through the
// Kubelet's in-memory map, not through this field.
type ContainerStatus struct {
	Name         string            `json:"name"`
	State        ContainerState    `json:"state"`
	Ready        bool              `json:"ready"`
	RestartCount int32             `json:"restartCount"`
	ContainerID  string            `json:"containerID,omitempty"`
	PortMappings map[int32]int32   `json:"portMappings,omitempty"` // containerPort -> hostPort
}

// PodCondition is a single status condition. Neither the Scheduler nor
// the Kubelet writes conditions; a pod the Scheduler cannot bind is
// left unbound with no condition recorded.
type PodCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// PodStatus is writable only via the status sub-resource (spec.md §4.4).
type PodStatus struct {
	Phase             PodPhase          `json:"phase,omitempty"`
	Conditions        []PodCondition    `json:"conditions,omitempty"`
	ContainerStatuses []ContainerStatus `json:"containerStatuses,omitempty"`
	ObservedGeneration int64            `json:"observedGeneration,omitempty"`
}

// Pod is the central workload resource (spec.md §3).
type Pod struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Spec       PodSpec   `json:"spec"`
	Status     PodStatus `json:"status,omitempty"`
}
