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

package document

import "testing"

func TestGetSetNested(t *testing.T) {
	d := Doc{}
	Set(d, "nginx", "spec", "containers", "0", "image")
	got := GetString(d, "spec", "containers", "0", "image")
	if got != "nginx" {
		t.Fatalf("got %q, want %q", got, "nginx")
	}
}

func TestGetMissingPathReturnsNil(t *testing.T) {
	d := Doc{"metadata": map[string]interface{}{"name": "a"}}
	if v := Get(d, "spec", "nodeName"); v != nil {
		t.Fatalf("expected nil, got %v", v)
	}
	if v := Get(d, "metadata", "name", "extra"); v != nil {
		t.Fatalf("descending through a string should yield nil, got %v", v)
	}
}

func TestGetInt64CoercesFloat64(t *testing.T) {
	d := Doc{"spec": map[string]interface{}{"replicas": float64(3)}}
	if got := GetInt64(d, "spec", "replicas"); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestGetStringMap(t *testing.T) {
	d := Doc{"metadata": map[string]interface{}{"labels": map[string]interface{}{"app": "web", "tier": "frontend"}}}
	got := GetStringMap(d, "metadata", "labels")
	if got["app"] != "web" || got["tier"] != "frontend" {
		t.Fatalf("got %v", got)
	}
	if GetStringMap(d, "metadata", "missing") != nil {
		t.Fatalf("expected nil for missing map")
	}
}

func TestGetStringSlice(t *testing.T) {
	d := Doc{"metadata": map[string]interface{}{"finalizers": []interface{}{"a", "b"}}}
	got := GetStringSlice(d, "metadata", "finalizers")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
}

func TestDelete(t *testing.T) {
	d := Doc{"metadata": map[string]interface{}{"name": "a", "namespace": "default"}}
	Delete(d, "metadata", "namespace")
	if _, ok := d["metadata"].(map[string]interface{})["namespace"]; ok {
		t.Fatalf("namespace should have been deleted")
	}
	if GetString(d, "metadata", "name") != "a" {
		t.Fatalf("deleting a sibling key should not disturb name")
	}
}

func TestDeleteMissingPathIsNoop(t *testing.T) {
	d := Doc{"metadata": map[string]interface{}{"name": "a"}}
	Delete(d, "spec", "containers")
}

func TestParseBytesRoundTrip(t *testing.T) {
	raw := []byte(`{"kind":"Pod","metadata":{"name":"nginx"}}`)
	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if GetString(d, "metadata", "name") != "nginx" {
		t.Fatalf("unexpected parse result: %v", d)
	}
	out, err := d.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if GetString(reparsed, "kind") != "Pod" {
		t.Fatalf("round-trip lost kind: %v", reparsed)
	}
}

func TestKey(t *testing.T) {
	if got := Key("Pod", "default", "nginx"); got != "Pod default/nginx" {
		t.Fatalf("got %q", got)
	}
	if got := Key("Namespace", "", "default"); got != "Namespace default" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitGroupVersion(t *testing.T) {
	cases := []struct {
		in, group, version string
	}{
		{"v1", "", "v1"},
		{"apps/v1", "apps", "v1"},
		{"batch/v1", "batch", "v1"},
	}
	for _, c := range cases {
		group, version := SplitGroupVersion(c.in)
		if group != c.group || version != c.version {
			t.Errorf("SplitGroupVersion(%q) = (%q, %q), want (%q, %q)", c.in, group, version, c.group, c.version)
		}
	}
}
