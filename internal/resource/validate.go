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
	"regexp"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
)

// dns1123Label matches upstream Kubernetes' name validation: lowercase
// alphanumerics and '-', not starting or ending with '-', max 253
// chars (spec.md §4.3 names "RFC-1123 subdomain validation" explicitly).
var dns1123Label = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

const maxNameLength = 253

func validateName(kind, name string) error {
	if name == "" {
		return krusterr.NewInvalid(kind, name, "name is required")
	}
	if len(name) > maxNameLength {
		return krusterr.NewInvalid(kind, name, "name must be no more than 253 characters")
	}
	if !dns1123Label.MatchString(name) {
		return krusterr.NewInvalid(kind, name, "name must consist of lowercase alphanumeric characters or '-'")
	}
	return nil
}

const maxLabelAnnotationValueLength = 63
const maxAnnotationsTotalBytes = 256 * 1024

func validateMetadata(kind, name string, doc document.Doc) error {
	labels := document.GetStringMap(doc, "metadata", "labels")
	for k, v := range labels {
		if len(k) > maxLabelAnnotationValueLength || len(v) > maxLabelAnnotationValueLength {
			return krusterr.NewInvalid(kind, name, "label "+k+" exceeds the 63 character limit")
		}
	}
	annotations := document.GetStringMap(doc, "metadata", "annotations")
	total := 0
	for k, v := range annotations {
		total += len(k) + len(v)
	}
	if total > maxAnnotationsTotalBytes {
		return krusterr.NewInvalid(kind, name, "annotations total size exceeds 256KiB")
	}
	return nil
}

// kindValidator enforces per-kind immutability rules on update. Create
// has nothing extra to check beyond the generic metadata validation
// above for most kinds, but the hook is here so a kind (e.g. Pod) can
// reject disallowed fields up front.
type kindValidator interface {
	validateCreate(doc document.Doc) error
	validateUpdate(current, next document.Doc) error
}

var kindValidators = map[string]kindValidator{
	"Pod":       podValidator{},
	"ConfigMap": immutableDataValidator{kind: "ConfigMap"},
	"Secret":    immutableDataValidator{kind: "Secret"},
}
