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
	"reflect"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
)

// podValidator enforces Pod spec immutability (spec.md §3 Pod
// invariants: "the Pod spec is immutable after creation except for a
// narrow allowlist"). activeDeadlineSeconds and tolerations may change
// freely, and nodeName may go from unset to set once (the binding);
// every other spec field, container images included, is immutable.
type podValidator struct{}

func (podValidator) validateCreate(doc document.Doc) error {
	containers := document.Get(doc, "spec", "containers")
	arr, ok := containers.([]interface{})
	if !ok || len(arr) == 0 {
		return krusterr.NewInvalid("Pod", document.GetString(doc, "metadata", "name"), "spec.containers must contain at least one container")
	}
	return nil
}

func (podValidator) validateUpdate(current, next document.Doc) error {
	name := document.GetString(current, "metadata", "name")

	currentSpec, _ := document.Get(current, "spec").(map[string]interface{})
	nextSpec, _ := document.Get(next, "spec").(map[string]interface{})
	if currentSpec == nil || nextSpec == nil {
		return nil
	}

	currentCopy := cloneMap(currentSpec)
	nextCopy := cloneMap(nextSpec)
	delete(currentCopy, "activeDeadlineSeconds")
	delete(nextCopy, "activeDeadlineSeconds")
	delete(currentCopy, "tolerations")
	delete(nextCopy, "tolerations")
	delete(currentCopy, "nodeName")
	delete(nextCopy, "nodeName")

	if !reflect.DeepEqual(currentCopy, nextCopy) {
		return krusterr.NewInvalid("Pod", name, "pod updates may not change fields other than activeDeadlineSeconds, tolerations and nodeName")
	}

	// nodeName is the Scheduler's binding sub-resource (spec.md §4.5):
	// an unset -> set transition is the one binding write allowed; once
	// bound, the assignment is as immutable as the rest of the spec.
	currentNode, _ := currentSpec["nodeName"].(string)
	nextNode, _ := nextSpec["nodeName"].(string)
	if currentNode != nextNode && currentNode != "" {
		return krusterr.NewInvalid("Pod", name, "pod.spec.nodeName is immutable once bound")
	}
	return nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
