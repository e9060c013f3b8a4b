/*
Copyright 2015 The Kubernetes Authors.
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

// Package document gives the Persistent Store a single, kind-agnostic
// representation of a resource: a plain map[string]interface{} with
// nested-field accessors, the same role unstructured.Unstructured plays
// for the teacher's generic controllers (dynamic/object,
// third_party/kubernetes/unstructured.go). Krust is its own apiserver,
// so it never imports apimachinery's unstructured package itself --
// this is a from-scratch adaptation of the same accessor idiom against
// a document produced by marshalling krust's own typed pkg/api kinds.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Doc is a decoded resource object: the same document that round-trips
// to JSON as the wire object, manipulated as a bag of fields so the
// store never needs kind-specific Go types.
type Doc map[string]interface{}

// Parse decodes raw JSON into a Doc.
func Parse(raw []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes re-encodes the Doc as canonical JSON.
func (d Doc) Bytes() ([]byte, error) {
	return json.Marshal(map[string]interface{}(d))
}

// Get returns the value at the given field path, or nil.
func Get(obj map[string]interface{}, fields ...string) interface{} {
	var val interface{} = obj
	for _, field := range fields {
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil
		}
		val = m[field]
	}
	return val
}

// GetString returns the string at fields, or "".
func GetString(obj map[string]interface{}, fields ...string) string {
	if s, ok := Get(obj, fields...).(string); ok {
		return s
	}
	return ""
}

// GetInt64 returns the int64 at fields, or 0. JSON numbers decode as
// float64, so this coerces from float64 as well as int64/json.Number.
func GetInt64(obj map[string]interface{}, fields ...string) int64 {
	switch v := Get(obj, fields...).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// GetStringMap returns the map[string]string at fields, or nil.
func GetStringMap(obj map[string]interface{}, fields ...string) map[string]string {
	m, ok := Get(obj, fields...).(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// GetStringSlice returns the []string at fields, or nil.
func GetStringSlice(obj map[string]interface{}, fields ...string) []string {
	arr, ok := Get(obj, fields...).([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Set writes value at the given field path, creating intermediate maps
// as needed.
func Set(obj map[string]interface{}, value interface{}, fields ...string) {
	m := obj
	for _, field := range fields[:len(fields)-1] {
		next, ok := m[field].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[field] = next
		}
		m = next
	}
	m[fields[len(fields)-1]] = value
}

// Delete removes the field at the given path, if present.
func Delete(obj map[string]interface{}, fields ...string) {
	m := obj
	for _, field := range fields[:len(fields)-1] {
		next, ok := m[field].(map[string]interface{})
		if !ok {
			return
		}
		m = next
	}
	delete(m, fields[len(fields)-1])
}

// Key renders a (kind, namespace, name) triple as a stable log/error
// identifier, e.g. "Pod default/nginx" or "Namespace default".
func Key(kind, namespace, name string) string {
	if namespace == "" {
		return fmt.Sprintf("%s %s", kind, name)
	}
	return fmt.Sprintf("%s %s/%s", kind, namespace, name)
}

// SplitGroupVersion splits "group/version" into its parts; a bare
// "version" (the core group) yields ("", "version").
func SplitGroupVersion(gv string) (group, version string) {
	if i := strings.IndexByte(gv, '/'); i >= 0 {
		return gv[:i], gv[i+1:]
	}
	return "", gv
}
