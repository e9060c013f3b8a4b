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

// Scope describes whether a kind is namespaced or cluster-scoped, the
// same distinction the HTTP Front End's URL layout hinges on
// (SPEC_FULL.md §4.3).
type Scope string

const (
	Namespaced Scope = "Namespaced"
	Cluster    Scope = "Cluster"
)

// KindInfo is the per-kind registration record that drives the generic
// router, storage table wiring, and discovery documents. It plays the
// role the teacher's dynamic/discovery.APIResource record plays for
// GenericController: one place that describes a kind instead of
// repeating group/version/kind/table per handler (SPEC_FULL.md §9).
type KindInfo struct {
	// Kind is the PascalCase kind name, e.g. "Pod".
	Kind string
	// ListKind is the kind name used for list envelopes, e.g. "PodList".
	ListKind string
	// Group is the API group; "" for the core/v1 group.
	Group string
	// Version is the API version, e.g. "v1".
	Version string
	// Resource is the plural, lowercase path segment, e.g. "pods".
	Resource string
	// Scope says whether this kind lives under /namespaces/{ns}/.
	Scope Scope
	// Table is the SQL table name backing this kind.
	Table string
	// HasStatus marks kinds that expose a status sub-resource.
	HasStatus bool
}

// GroupVersion returns "group/version", or just "version" for the core
// group, matching the URL prefixes in spec.md §6.
func (k KindInfo) GroupVersion() string {
	if k.Group == "" {
		return k.Version
	}
	return k.Group + "/" + k.Version
}

// Registry is the fixed list of kinds krust serves. Order is
// insignificant; it is kept alphabetical for readability.
var Registry = []KindInfo{
	{Kind: "ConfigMap", ListKind: "ConfigMapList", Version: "v1", Resource: "configmaps", Scope: Namespaced, Table: "configmaps"},
	{Kind: "Deployment", ListKind: "DeploymentList", Group: "apps", Version: "v1", Resource: "deployments", Scope: Namespaced, Table: "deployments", HasStatus: true},
	{Kind: "Job", ListKind: "JobList", Group: "batch", Version: "v1", Resource: "jobs", Scope: Namespaced, Table: "jobs", HasStatus: true},
	{Kind: "Namespace", ListKind: "NamespaceList", Version: "v1", Resource: "namespaces", Scope: Cluster, Table: "namespaces", HasStatus: true},
	{Kind: "Node", ListKind: "NodeList", Version: "v1", Resource: "nodes", Scope: Cluster, Table: "nodes", HasStatus: true},
	{Kind: "Pod", ListKind: "PodList", Version: "v1", Resource: "pods", Scope: Namespaced, Table: "pods", HasStatus: true},
	{Kind: "ReplicaSet", ListKind: "ReplicaSetList", Group: "apps", Version: "v1", Resource: "replicasets", Scope: Namespaced, Table: "replicasets", HasStatus: true},
	{Kind: "Secret", ListKind: "SecretList", Version: "v1", Resource: "secrets", Scope: Namespaced, Table: "secrets"},
	{Kind: "Service", ListKind: "ServiceList", Version: "v1", Resource: "services", Scope: Namespaced, Table: "services", HasStatus: true},
}

// ByKind finds a KindInfo by its Kind name.
func ByKind(kind string) (KindInfo, bool) {
	for _, k := range Registry {
		if k.Kind == kind {
			return k, true
		}
	}
	return KindInfo{}, false
}

// ByResource finds a KindInfo by its plural resource path segment and
// group/version, as used when routing an incoming URL.
func ByResource(group, version, resource string) (KindInfo, bool) {
	for _, k := range Registry {
		if k.Group == group && k.Version == version && k.Resource == resource {
			return k, true
		}
	}
	return KindInfo{}, false
}
