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
	"testing"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
)

func basePod() document.Doc {
	return document.Doc{
		"metadata": map[string]interface{}{"name": "nginx"},
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"name": "nginx", "image": "nginx:1.25"},
			},
			"nodeName": "krust-node",
		},
	}
}

func TestPodValidatorCreateRejectsEmptyContainers(t *testing.T) {
	v := podValidator{}
	doc := document.Doc{"metadata": map[string]interface{}{"name": "nginx"}, "spec": map[string]interface{}{}}
	err := v.validateCreate(doc)
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error, got %v", err)
	}
}

func TestPodValidatorCreateAccepts(t *testing.T) {
	v := podValidator{}
	if err := v.validateCreate(basePod()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPodValidatorUpdateAllowsActiveDeadlineAndTolerations(t *testing.T) {
	v := podValidator{}
	current := basePod()
	next := basePod()
	document.Set(next, int64(30), "spec", "activeDeadlineSeconds")
	document.Set(next, []interface{}{map[string]interface{}{"key": "node.krust.sh/unreachable"}}, "spec", "tolerations")

	if err := v.validateUpdate(current, next); err != nil {
		t.Fatalf("unexpected error for allowlisted fields: %v", err)
	}
}

func TestPodValidatorUpdateRejectsContainerChange(t *testing.T) {
	v := podValidator{}
	current := basePod()
	next := basePod()
	document.Set(next, "nginx:1.27", "spec", "containers", "0", "image")

	err := v.validateUpdate(current, next)
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error for spec mutation, got %v", err)
	}
}

func TestPodValidatorUpdateAllowsBindingUnscheduledNodeName(t *testing.T) {
	v := podValidator{}
	current := basePod()
	document.Set(current, "", "spec", "nodeName")
	next := basePod()

	if err := v.validateUpdate(current, next); err != nil {
		t.Fatalf("unexpected error binding an unscheduled pod: %v", err)
	}
}

func TestPodValidatorUpdateRejectsRebindingNodeName(t *testing.T) {
	v := podValidator{}
	current := basePod()
	next := basePod()
	document.Set(next, "other-node", "spec", "nodeName")

	err := v.validateUpdate(current, next)
	if err == nil || !krusterr.IsInvalid(err) {
		t.Fatalf("expected Invalid error rebinding an already-bound pod, got %v", err)
	}
}

func TestPodValidatorUpdateWithoutSpecIsNoop(t *testing.T) {
	v := podValidator{}
	current := document.Doc{"metadata": map[string]interface{}{"name": "nginx"}}
	next := document.Doc{"metadata": map[string]interface{}{"name": "nginx"}}
	if err := v.validateUpdate(current, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
