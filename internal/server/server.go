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

// Package server wires every krust component together and runs them,
// the same role the teacher's server/server.go plays for
// metacontroller's single controller manager -- generalised here to
// start the Persistent Store, Watch Bus, Resource Service, HTTP Front
// End, Scheduler, Kubelet and Deployment controller as one process.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/krust-sh/krust/internal/config"
	"github.com/krust-sh/krust/internal/deploycontroller"
	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/engine/localengine"
	"github.com/krust-sh/krust/internal/httpapi"
	"github.com/krust-sh/krust/internal/kubelet"
	"github.com/krust-sh/krust/internal/metrics"
	"github.com/krust-sh/krust/internal/portforward"
	"github.com/krust-sh/krust/internal/resource"
	"github.com/krust-sh/krust/internal/scheduler"
	"github.com/krust-sh/krust/internal/store"
	"github.com/krust-sh/krust/internal/watchbus"
	"github.com/krust-sh/krust/pkg/api"
)

const eventPruneInterval = 5 * time.Minute

// Server owns every long-running krust component.
type Server struct {
	cfg *config.Config

	st       *store.Store
	bus      *watchbus.Bus
	svc      *resource.Service
	kubelet  *kubelet.Kubelet
	sched    *scheduler.Scheduler
	deploy   *deploycontroller.Controller
	httpSrv  *http.Server
	debugSrv *http.Server

	eventRetention time.Duration
}

// New builds every component but does not start anything yet.
func New(cfg *config.Config) (*Server, error) {
	retention, err := time.ParseDuration(cfg.EventRetention)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid -event-retention %q", cfg.EventRetention)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus := watchbus.New(st)
	svc := resource.New(st)
	eng := localengine.New()
	kube := kubelet.New(svc, eng, cfg.NodeName, cfg.WorkersCount)
	sched := scheduler.New(svc, cfg.NodeName, cfg.WorkersCount)
	deploy := deploycontroller.New(svc, cfg.WorkersCount)
	pf := portforward.New(kube)

	metricsHandler, err := metrics.Register("krust")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)

	return &Server{
		cfg:            cfg,
		st:             st,
		bus:            bus,
		svc:            svc,
		kubelet:        kube,
		sched:          sched,
		deploy:         deploy,
		eventRetention: retention,
		httpSrv:        &http.Server{Addr: cfg.BindAddress, Handler: httpapi.NewRouter(svc, st, bus, pf)},
		debugSrv:       &http.Server{Addr: cfg.DebugAddress, Handler: mux},
	}, nil
}

// Start runs every component until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.seedNode(ctx); err != nil {
		return err
	}

	go s.bus.Run(ctx)
	go s.runPruner(ctx)
	go s.sched.Run(ctx, s.bus)
	go s.kubelet.Run(ctx, s.bus)
	go s.deploy.Run(ctx, s.bus)

	go func() {
		glog.Infof("debug/metrics listening on %s", s.cfg.DebugAddress)
		if err := s.debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("debug server error: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("HTTP Front End listening on %s", s.cfg.BindAddress)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	_ = s.debugSrv.Shutdown(shutdownCtx)
	return s.st.Close()
}

func (s *Server) runPruner(ctx context.Context) {
	ticker := time.NewTicker(eventPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.st.PruneEvents(ctx, s.eventRetention); err != nil {
				glog.Warningf("event retention prune failed: %v", err)
			}
		}
	}
}

// seedNode ensures the single Node this process represents exists,
// creating it if this is a fresh database (spec.md §4.4 supplemented
// feature: "a Node row is seeded at startup").
func (s *Server) seedNode(ctx context.Context) error {
	nodeKind, _ := api.ByKind("Node")
	if _, err := s.st.Get(ctx, nodeKind, "", s.cfg.NodeName); err == nil {
		return nil
	}

	doc := document.Doc{
		"metadata": map[string]interface{}{
			"name": s.cfg.NodeName,
		},
		"status": map[string]interface{}{
			"ready": true,
			"allocatable": map[string]interface{}{
				"pods": "110",
			},
		},
	}
	document.Set(doc, "Node", "kind")
	document.Set(doc, "v1", "apiVersion")

	_, err := s.svc.Create(ctx, nodeKind, doc)
	if err != nil {
		return errors.Wrap(err, "failed to seed node")
	}
	glog.Infof("Seeded node %q", s.cfg.NodeName)
	return nil
}
