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

// Package portforward is the Port-Forward Gateway (SPEC_FULL.md §4.7):
// it negotiates the Upgrade handshake Kubernetes clients use
// (SPDY/3.1+portforward.k8s.io or v4.channel.k8s.io over WebSocket)
// and relays bytes between the caller's TCP stream and the kubelet's
// in-process container port mapping. There is no teacher precedent for
// this component -- metac never proxies container traffic -- so the
// transport idioms are grounded directly on the pack's client-go
// vendor copy of the same protocol (k8s.io/client-go/tools/portforward
// and its SPDY/WebSocket dialers).
package portforward

import (
	"context"
	"net/http"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/krusterr"
)

// PortResolver looks up the local TCP address backing containerPort of
// the named pod, as maintained by the Kubelet's port allocator.
type PortResolver interface {
	ResolvePort(ctx context.Context, namespace, pod string, containerPort int32) (addr string, err error)
}

// Gateway serves the portforward sub-resource endpoint.
type Gateway struct {
	resolver PortResolver
}

// New constructs a Gateway backed by resolver.
func New(resolver PortResolver) *Gateway {
	return &Gateway{resolver: resolver}
}

// ServeHTTP negotiates the Upgrade handshake and relays traffic for
// one portforward session. namespace/pod come from the URL; the caller
// (internal/httpapi) has already authorized the request by the time
// this runs.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request, namespace, pod string) {
	proto := negotiateProtocol(r)
	switch proto {
	case protoWebSocketV4:
		g.serveWebSocket(w, r, namespace, pod)
	case protoSPDY31:
		g.serveSPDY(w, r, namespace, pod)
	default:
		writeUpgradeRequired(w, r)
	}
}

func writeUpgradeRequired(w http.ResponseWriter, r *http.Request) {
	err := krusterr.NewUpgradeRequired("the portforward endpoint requires an Upgrade handshake (SPDY/3.1+portforward.k8s.io or v4.channel.k8s.io)")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(err.Code())
	_, _ = w.Write([]byte(err.Error()))
	glog.V(4).Infof("rejected non-upgrade portforward request from %s", r.RemoteAddr)
}
