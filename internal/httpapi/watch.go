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
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/pkg/api"
)

// handleWatch streams one JSON-encoded api.WatchEvent per line until
// the client disconnects, per spec.md §4.2/§6.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, k api.KindInfo) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeStatus(w, r, krusterr.NewInternal(errStreamingUnsupported))
		return
	}

	namespace := chi.URLParam(r, "namespace")
	var after int64
	if rv := r.URL.Query().Get("resourceVersion"); rv != "" {
		after, _ = strconv.ParseInt(rv, 10, 64)
	}

	sub, err := s.bus.Subscribe(r.Context(), k.Kind, namespace, after)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				glog.V(4).Infof("watch stream write failed, closing: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

var errStreamingUnsupported = errors.New("streaming unsupported by this response writer")
