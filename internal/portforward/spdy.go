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

package portforward

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"github.com/moby/spdystream"
)

const (
	headerStreamType = "streamType"
	headerPort       = "port"
	streamTypeData   = "data"
	streamTypeError  = "error"
)

// serveSPDY implements the older SPDY/3.1+portforward.k8s.io
// sub-protocol: the client opens one "error" stream and one "data"
// stream per port, each tagged with a `port` header; streams sharing a
// port are paired and relayed to that port's backend connection
// (spec.md §4.5).
func (g *Gateway) serveSPDY(w http.ResponseWriter, r *http.Request, namespace, pod string) {
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Upgrade", "SPDY/3.1")
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		glog.Errorf("portforward: response writer does not support hijacking")
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		glog.Errorf("portforward: hijack failed: %v", err)
		return
	}

	pairs := &spdyPortPairs{pairs: map[string]*spdyPortPair{}}

	spdyConn, err := spdystream.NewServerConnection(conn, func(stream *spdystream.Stream) {
		handleSPDYStream(g, namespace, pod, pairs, stream)
	})
	if err != nil {
		glog.Errorf("portforward: failed to establish SPDY connection: %v", err)
		conn.Close()
		return
	}
	spdyConn.Serve()
	<-spdyConn.CloseChan()
}

type spdyPortPair struct {
	mu    sync.Mutex
	data  *spdystream.Stream
	error *spdystream.Stream
}

type spdyPortPairs struct {
	mu    sync.Mutex
	pairs map[string]*spdyPortPair
}

func (p *spdyPortPairs) get(port string) *spdyPortPair {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair, ok := p.pairs[port]
	if !ok {
		pair = &spdyPortPair{}
		p.pairs[port] = pair
	}
	return pair
}

func handleSPDYStream(g *Gateway, namespace, pod string, pairs *spdyPortPairs, stream *spdystream.Stream) {
	streamType := stream.Headers().Get(headerStreamType)
	port := stream.Headers().Get(headerPort)
	if port == "" {
		stream.Reset()
		return
	}
	stream.SendReply(nil, false)

	pair := pairs.get(port)
	pair.mu.Lock()
	switch streamType {
	case streamTypeError:
		pair.error = stream
	default:
		pair.data = stream
	}
	ready := pair.data != nil && pair.error != nil
	pair.mu.Unlock()
	if !ready {
		return
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return
	}
	backendAddr, err := g.resolver.ResolvePort(context.Background(), namespace, pod, int32(portNum))
	if err != nil {
		pair.error.Write([]byte(err.Error()))
		pair.data.Close()
		return
	}
	backend, err := net.Dial("tcp", backendAddr)
	if err != nil {
		pair.error.Write([]byte("dial failed: " + err.Error()))
		pair.data.Close()
		return
	}
	relay(pair.data, backend)
}
