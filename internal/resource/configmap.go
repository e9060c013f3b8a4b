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

// immutableDataValidator enforces the `immutable: true` rule shared by
// ConfigMap and Secret (spec.md §3): once set, data/binaryData/
// stringData may never change again, and immutable itself may not be
// unset.
type immutableDataValidator struct {
	kind string
}

func (immutableDataValidator) validateCreate(doc document.Doc) error {
	return nil
}

func (v immutableDataValidator) validateUpdate(current, next document.Doc) error {
	if !isTrue(document.Get(current, "immutable")) {
		return nil
	}
	name := document.GetString(current, "metadata", "name")
	if !isTrue(document.Get(next, "immutable")) {
		return krusterr.NewInvalid(v.kind, name, "immutable cannot be unset once set")
	}
	if !reflect.DeepEqual(document.Get(current, "data"), document.Get(next, "data")) ||
		!reflect.DeepEqual(document.Get(current, "binaryData"), document.Get(next, "binaryData")) ||
		!reflect.DeepEqual(document.Get(current, "stringData"), document.Get(next, "stringData")) {
		return krusterr.NewInvalid(v.kind, name, "data is immutable")
	}
	return nil
}

func isTrue(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
