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
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{websocketProtocol},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// serveWebSocket implements the v4.channel.k8s.io sub-protocol: one
// WebSocket connection multiplexes a data channel (even number, 2i)
// and an error channel (odd number, 2i+1) per requested port, with
// every frame's first byte naming its channel (spec.md §4.5).
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request, namespace, pod string) {
	ports, err := parsePorts(r.URL.Query().Get("ports"))
	if err != nil || len(ports) == 0 {
		http.Error(w, "ports query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("portforward websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// gorilla/websocket forbids concurrent writers on one *Conn; every
	// port's pump goroutine and the acknowledgement/error frames below
	// all share wsConn to serialise them.
	wc := &wsConn{conn: conn}

	sessions := make(map[byte]*wsChannel, len(ports)*2)
	for i, port := range ports {
		dataCh := byte(2 * i)
		errCh := byte(2*i + 1)
		backend, err := g.resolver.ResolvePort(r.Context(), namespace, pod, port)
		if err != nil {
			wc.writeError(errCh, err.Error())
			continue
		}
		c, err := net.Dial("tcp", backend)
		if err != nil {
			wc.writeError(errCh, "dial failed: "+err.Error())
			continue
		}
		// The v4.channel.k8s.io sub-protocol requires the server to send,
		// as the first frame on each data channel, the little-endian
		// 16-bit container port, before relaying any backend bytes
		// (spec.md §4.7, §8 testable property 6).
		if err := wc.writePortAck(dataCh, port); err != nil {
			c.Close()
			continue
		}
		sess := &wsChannel{conn: wc, dataCh: dataCh, errCh: errCh, backend: c}
		sessions[dataCh] = sess
		go sess.pump()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if len(data) == 0 {
			continue
		}
		channel, payload := data[0], data[1:]
		if sess, ok := sessions[channel]; ok {
			if _, err := sess.backend.Write(payload); err != nil {
				break
			}
		}
	}
	for _, sess := range sessions {
		sess.backend.Close()
	}
}

// wsConn serialises writes to the underlying *websocket.Conn across the
// HTTP handler goroutine and every port's pump goroutine.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(channel byte, payload []byte) error {
	frame := append([]byte{channel}, payload...)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) writeError(errCh byte, message string) {
	_ = c.write(errCh, []byte(message))
}

func (c *wsConn) writePortAck(dataCh byte, port int32) error {
	return c.write(dataCh, []byte{byte(port), byte(port >> 8)})
}

// wsChannel relays one port's backend TCP connection onto its
// WebSocket data channel.
type wsChannel struct {
	conn    *wsConn
	dataCh  byte
	errCh   byte
	backend net.Conn
}

func (c *wsChannel) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.backend.Read(buf)
		if n > 0 {
			if werr := c.conn.write(c.dataCh, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// parsePorts parses the ports=L1:R1,L2:R2,... query parameter. Only the
// container-side port R is meaningful to the gateway; the client-side
// local port L is parsed (to reject malformed requests early) and then
// discarded (spec.md §4.7, §9's explicit repair of the L/R confusion).
func parsePorts(raw string) ([]int32, error) {
	if raw == "" {
		return nil, nil
	}
	var out []int32
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		local, remote, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("invalid port spec %q: want L:R", p)
		}
		if _, err := strconv.Atoi(local); err != nil {
			return nil, fmt.Errorf("invalid local port in %q: %w", p, err)
		}
		r, err := strconv.Atoi(remote)
		if err != nil {
			return nil, fmt.Errorf("invalid container port in %q: %w", p, err)
		}
		out = append(out, int32(r))
	}
	return out, nil
}
