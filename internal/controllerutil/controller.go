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

// Package controllerutil is the shared workqueue-driven worker pool
// every reconcile loop in krust (Scheduler, Kubelet, the Deployment
// fan-out controller) is built on. It is a direct generalisation of
// the teacher's controller/generic.watchController worker-pool
// plumbing: same rate-limiting workqueue, same wait.Until worker
// loop, same utilruntime.HandleError/HandleCrash usage, but decoupled
// from metacontroller's informer/hook machinery so any krust component
// can drive it off its own trigger source (the Watch Bus, a ticker, a
// seed event).
package controllerutil

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"k8s.io/apimachinery/pkg/util/wait"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/util/workqueue"

	"github.com/krust-sh/krust/internal/metrics"
)

// Reconciler is implemented by anything a Controller drives. key is
// whatever string uniquely identifies the unit of work -- for krust's
// namespaced kinds this is "namespace/name", matching
// cache.DeletionHandlingMetaNamespaceKeyFunc's output in the teacher.
type Reconciler interface {
	Reconcile(ctx context.Context, key string) error
}

// Controller runs Workers goroutines pulling keys off a rate-limited
// workqueue and handing them to Reconciler.Reconcile, requeuing with
// backoff on error exactly like the teacher's generic controller does.
type Controller struct {
	Name    string
	Workers int

	queue      workqueue.RateLimitingInterface
	reconciler Reconciler
}

// New constructs a Controller named name with workers worker
// goroutines, driving reconciler.
func New(name string, workers int, reconciler Reconciler) *Controller {
	if workers <= 0 {
		workers = 1
	}
	return &Controller{
		Name:       name,
		Workers:    workers,
		queue:      workqueue.NewNamedRateLimitingQueue(workqueue.DefaultControllerRateLimiter(), name),
		reconciler: reconciler,
	}
}

// Enqueue schedules key for reconciliation.
func (c *Controller) Enqueue(key string) {
	c.queue.Add(key)
}

// EnqueueAfter schedules key for reconciliation after delay, used for
// requeueing work that is waiting on an external condition (e.g. the
// Kubelet retrying a pull).
func (c *Controller) EnqueueAfter(key string, delay time.Duration) {
	c.queue.AddAfter(key, delay)
}

// Run blocks, running Workers worker goroutines until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer utilruntime.HandleCrash()
	defer c.queue.ShutDown()

	glog.Infof("Starting controller %q with %d workers", c.Name, c.Workers)
	for i := 0; i < c.Workers; i++ {
		go wait.Until(func() { c.runWorker(ctx) }, time.Second, ctx.Done())
	}
	<-ctx.Done()
	glog.Infof("Stopping controller %q", c.Name)
}

func (c *Controller) runWorker(ctx context.Context) {
	for c.processNextItem(ctx) {
	}
}

func (c *Controller) processNextItem(ctx context.Context) bool {
	key, shutdown := c.queue.Get()
	if shutdown {
		return false
	}
	defer c.queue.Done(key)

	start := time.Now()
	err := c.reconciler.Reconcile(ctx, key.(string))
	metrics.ObserveReconcile(ctx, c.Name, time.Since(start))
	if err == nil {
		c.queue.Forget(key)
		return true
	}

	utilruntime.HandleError(fmt.Errorf("%s: error reconciling %v: %w", c.Name, key, err))
	c.queue.AddRateLimited(key)
	return true
}
