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

package httpapi

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/krust-sh/krust/internal/krusterr"
)

// contentType is the negotiated wire format: JSON is canonical
// storage and the default response format; YAML is accepted on
// request bodies and produced when the client's Accept header asks
// for it (spec.md §6, "JSON canonical, YAML converted at the edge").
type contentType int

const (
	typeJSON contentType = iota
	typeYAML
)

func negotiateAccept(r *http.Request) (contentType, error) {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		return typeJSON, nil
	}
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "application/json", "application/*", "*/*":
			return typeJSON, nil
		case "application/yaml", "application/x-yaml", "text/yaml":
			return typeYAML, nil
		}
	}
	return 0, krusterr.NewInvalid("", "", "the server does not support any of the requested content types")
}

// writeBody encodes v per the request's Accept header.
func writeBody(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	ct, err := negotiateAccept(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotAcceptable)
		_ = json.NewEncoder(w).Encode(v)
		return
	}
	switch ct {
	case typeYAML:
		b, err := yamlMarshal(v)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(code)
		_, _ = w.Write(b)
	default:
		writeJSON(w, code, v)
	}
}

func yamlMarshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return yaml.JSONToYAML(b)
}

// readBody decodes the request body into a generic document, honouring
// Content-Type: application/yaml in addition to JSON.
func readBody(r *http.Request) (map[string]interface{}, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		return nil, krusterr.NewInvalid("", "", "failed to read request body")
	}
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "yaml") {
		jsonBytes, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, krusterr.NewInvalid("", "", "invalid YAML body: "+err.Error())
		}
		raw = jsonBytes
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, krusterr.NewInvalid("", "", "invalid request body: "+err.Error())
	}
	return doc, nil
}
