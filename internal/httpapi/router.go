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
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/internal/portforward"
	"github.com/krust-sh/krust/internal/resource"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/internal/watchbus"
	"github.com/krust-sh/krust/pkg/api"
)

// Server is the HTTP Front End.
type Server struct {
	svc *resource.Service
	st  *store.Store
	bus *watchbus.Bus
	pf  *portforward.Gateway
}

// NewRouter builds the chi.Mux serving every registered kind, health
// endpoints, discovery documents, and port-forward, mirroring
// upstream's group/version/namespace/name URL layout
// (SPEC_FULL.md §4.3).
func NewRouter(svc *resource.Service, st *store.Store, bus *watchbus.Bus, pf *portforward.Gateway) http.Handler {
	s := &Server{svc: svc, st: st, bus: bus, pf: pf}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/livez", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Get("/api", s.handleCoreDiscovery)
	r.Get("/apis", s.handleGroupDiscovery)

	r.Route("/api/v1", func(r chi.Router) {
		s.mountKindRoutes(r, "", "v1")
	})
	r.Route("/apis/{group}/{version}", func(r chi.Router) {
		r.Use(s.resolveGroupVersion)
		s.mountKindRoutesDynamic(r)
	})

	r.Get("/api/v1/namespaces/{namespace}/pods/{name}/portforward", s.handlePortForward)

	return r
}

type ctxKey int

const (
	ctxKindInfo ctxKey = iota
)

func withKind(ctx context.Context, k api.KindInfo) context.Context {
	return context.WithValue(ctx, ctxKindInfo, k)
}

func kindFromContext(ctx context.Context) (api.KindInfo, bool) {
	k, ok := ctx.Value(ctxKindInfo).(api.KindInfo)
	return k, ok
}

func (s *Server) mountKindRoutes(r chi.Router, group, version string) {
	r.Route("/namespaces/{namespace}/{resource}", func(r chi.Router) {
		r.Use(s.resolveKind(group, version))
		s.mountCRUD(r)
	})
	r.Route("/{resource}", func(r chi.Router) {
		r.Use(s.resolveKind(group, version))
		s.mountCRUD(r)
	})
}

func (s *Server) mountKindRoutesDynamic(r chi.Router) {
	r.Route("/namespaces/{namespace}/{resource}", func(r chi.Router) {
		r.Use(s.resolveKindDynamic)
		s.mountCRUD(r)
	})
	r.Route("/{resource}", func(r chi.Router) {
		r.Use(s.resolveKindDynamic)
		s.mountCRUD(r)
	})
}

func (s *Server) mountCRUD(r chi.Router) {
	r.Get("/", s.handleList)
	r.Post("/", s.handleCreate)
	r.Get("/{name}", s.handleGet)
	r.Put("/{name}", s.handleUpdate)
	r.Delete("/{name}", s.handleDelete)
	r.Put("/{name}/status", s.handleUpdateStatus)
}

func (s *Server) resolveKind(group, version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := chi.URLParam(r, "resource")
			k, ok := api.ByResource(group, version, resource)
			if !ok {
				writeStatus(w, r, krusterr.NewNotFound("Resource", resource))
				return
			}
			next.ServeHTTP(w, r.WithContext(withKind(r.Context(), k)))
		})
	}
}

func (s *Server) resolveKindDynamic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		group := chi.URLParam(r, "group")
		version := chi.URLParam(r, "version")
		resource := chi.URLParam(r, "resource")
		k, ok := api.ByResource(group, version, resource)
		if !ok {
			writeStatus(w, r, krusterr.NewNotFound("Resource", resource))
			return
		}
		next.ServeHTTP(w, r.WithContext(withKind(r.Context(), k)))
	})
}

func (s *Server) resolveGroupVersion(next http.Handler) http.Handler {
	return next
}
