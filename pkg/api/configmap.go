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

// ConfigMap holds non-confidential key/value data. krust does not
// enforce a total size limit on it. Data/BinaryData are not behind a
// Spec/Status split, matching upstream Kubernetes' flat shape.
type ConfigMap struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
	Data       map[string]string `json:"data,omitempty"`
	BinaryData map[string][]byte `json:"binaryData,omitempty"`
	Immutable  *bool             `json:"immutable,omitempty"`
}

// Secret holds base64-encoded confidential data (spec.md §4.4): Data
// must already be base64; the Resource Service does not decode or
// check it. StringData is stored as given; it is not merged into Data.
type Secret struct {
	TypeMeta    `json:",inline"`
	ObjectMeta  `json:"metadata"`
	Type        string            `json:"type,omitempty"`
	Data        map[string][]byte `json:"data,omitempty"`
	StringData  map[string]string `json:"stringData,omitempty"`
	Immutable   *bool             `json:"immutable,omitempty"`
}
