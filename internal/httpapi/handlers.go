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
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/pkg/api"
)

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		glog.V(5).Infof("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Healthy(r.Context()); err != nil {
		http.Error(w, "not ok", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func (s *Server) handleCoreDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": "APIVersions", "versions": []string{"v1"}})
}

func (s *Server) handleGroupDiscovery(w http.ResponseWriter, r *http.Request) {
	groups := map[string]bool{}
	for _, k := range api.Registry {
		if k.Group != "" {
			groups[k.Group] = true
		}
	}
	var list []map[string]interface{}
	for g := range groups {
		list = append(list, map[string]interface{}{"name": g, "versions": []map[string]string{{"groupVersion": g + "/v1", "version": "v1"}}})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": "APIGroupList", "groups": list})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	if r.URL.Query().Get("watch") == "true" {
		s.handleWatch(w, r, k)
		return
	}

	namespace := chi.URLParam(r, "namespace")
	selector, err := parseLabelSelector(r.URL.Query().Get("labelSelector"))
	if err != nil {
		writeStatus(w, r, err)
		return
	}

	result, err := s.svc.List(r.Context(), k, namespace, selector)
	if err != nil {
		writeStatus(w, r, err)
		return
	}

	items := make([]json.RawMessage, 0, len(result.Items))
	for _, it := range result.Items {
		b, _ := it.Bytes()
		items = append(items, b)
	}
	list := api.List{
		TypeMeta: api.TypeMeta{Kind: k.ListKind, APIVersion: k.GroupVersion()},
		Metadata: api.ListMeta{ResourceVersion: strconv.FormatInt(result.ResourceVersion, 10)},
		Items:    items,
	}
	writeBody(w, r, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	doc, err := s.svc.Get(r.Context(), k, namespace, name)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	writeBody(w, r, http.StatusOK, map[string]interface{}(doc))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	namespace := chi.URLParam(r, "namespace")

	body, err := readBody(r)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	doc := document.Doc(body)
	document.Set(doc, k.Kind, "kind")
	document.Set(doc, k.GroupVersion(), "apiVersion")
	if namespace != "" {
		document.Set(doc, namespace, "metadata", "namespace")
	}

	created, err := s.svc.Create(r.Context(), k, doc)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	writeBody(w, r, http.StatusCreated, map[string]interface{}(created))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	body, err := readBody(r)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	doc := document.Doc(body)
	rv := document.GetString(doc, "metadata", "resourceVersion")

	updated, err := s.svc.Update(r.Context(), k, namespace, name, doc, store.Preconditions{ResourceVersion: rv})
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	writeBody(w, r, http.StatusOK, map[string]interface{}(updated))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	if !k.HasStatus {
		writeStatus(w, r, krusterr.NewInvalid(k.Kind, name, "this kind has no status sub-resource"))
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	doc := document.Doc(body)
	status := document.Get(doc, "status")
	rv := document.GetString(doc, "metadata", "resourceVersion")

	updated, err := s.svc.UpdateStatus(r.Context(), k, namespace, name, status, store.Preconditions{ResourceVersion: rv})
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	writeBody(w, r, http.StatusOK, map[string]interface{}(updated))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	k, _ := kindFromContext(r.Context())
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	grace := 30 * time.Second
	if g := r.URL.Query().Get("gracePeriodSeconds"); g != "" {
		if secs, err := strconv.Atoi(g); err == nil {
			grace = time.Duration(secs) * time.Second
		}
	}

	deleted, err := s.svc.Delete(r.Context(), k, namespace, name, store.Preconditions{}, grace)
	if err != nil {
		writeStatus(w, r, err)
		return
	}
	writeBody(w, r, http.StatusOK, map[string]interface{}(deleted))
}

func parseLabelSelector(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	out := map[string]string{}
	pairs := splitComma(raw)
	for _, p := range pairs {
		kv := splitEquals(p)
		if len(kv) != 2 {
			return nil, krusterr.NewInvalid("", "", "invalid labelSelector: "+raw)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func splitEquals(s string) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s}
}
