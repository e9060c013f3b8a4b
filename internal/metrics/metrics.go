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

// Package metrics wires up krust's process metrics on the debug
// listener (spec.md §6 ambient stack). Grounded on the
// contrib.go.opencensus.io/exporter/prometheus + go.opencensus.io
// pairing attested across the retrieved example pack (several repos'
// vendored client-go dependency closure carry it) for exporting
// OpenCensus-recorded measurements through a Prometheus scrape
// endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/golang/glog"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// ReconcileLatency records how long one reconcile pass takes, tagged
	// by controller (scheduler, kubelet, deploycontroller).
	ReconcileLatency = stats.Float64("krust/reconcile_latency_seconds", "reconcile pass latency", "s")

	keyController, _ = tag.NewKey("controller")

	reconcileLatencyView = &view.View{
		Name:        "krust/reconcile_latency_seconds",
		Measure:     ReconcileLatency,
		Description: "Latency of one reconcile pass, by controller",
		TagKeys:     []tag.Key{keyController},
		Aggregation: view.Distribution(0.001, 0.01, 0.1, 0.5, 1, 5, 10),
	}
)

// Register installs krust's views and returns an http.Handler serving
// them in Prometheus exposition format.
func Register(namespace string) (http.Handler, error) {
	if err := view.Register(reconcileLatencyView); err != nil {
		return nil, err
	}
	exporter, err := prometheus.NewExporter(prometheus.Options{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	view.RegisterExporter(exporter)
	view.SetReportingPeriod(5 * time.Second)
	return exporter, nil
}

// ObserveReconcile records one reconcile pass's duration for controller.
func ObserveReconcile(ctx context.Context, controller string, d time.Duration) {
	ctx, err := tag.New(ctx, tag.Insert(keyController, controller))
	if err != nil {
		glog.Warningf("metrics: failed to tag context: %v", err)
		return
	}
	stats.Record(ctx, ReconcileLatency.M(d.Seconds()))
}
