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

// Package httpapi is the HTTP Front End (SPEC_FULL.md §4.3): URL
// routing matching the Kubernetes group/version/namespace/name layout,
// JSON/YAML content negotiation, watch streaming, and the Upgrade
// handshake for port-forward. Grounded on the teacher's
// server/server.go for the top-level mux-wiring idiom, generalised
// from "serve metacontroller's own webhook" to "serve every registered
// kind generically".
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/pkg/api"
)

// writeStatus translates an error into the Kubernetes-shaped Status
// body and matching HTTP code (spec.md §7: "the HTTP Front End is the
// only component allowed to translate a krusterr into a wire Status").
func writeStatus(w http.ResponseWriter, r *http.Request, err error) {
	kerr, ok := err.(*krusterr.Error)
	if !ok {
		kerr = krusterr.NewInternal(err)
	}
	status := api.Status{
		TypeMeta: api.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   "Failure",
		Message:  kerr.Error(),
		Reason:   string(kerr.Reason),
		Code:     kerr.Code(),
	}
	writeBody(w, r, kerr.Code(), status)
	if kerr.Code() >= 500 {
		glog.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("failed to encode response body: %v", err)
	}
}
