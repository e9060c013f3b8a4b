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
	"net/http"
	"strings"
)

type protocol int

const (
	protoNone protocol = iota
	protoSPDY31
	protoWebSocketV4
)

const (
	spdyProtocol      = "portforward.k8s.io"
	websocketProtocol = "v4.channel.k8s.io"
)

// negotiateProtocol inspects the Upgrade/Connection headers and the
// WebSocket Sec-WebSocket-Protocol list to decide which transport the
// client wants, matching the two forms upstream kubectl actually sends
// (spec.md §4.5).
func negotiateProtocol(r *http.Request) protocol {
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	switch upgrade {
	case "spdy/3.1":
		return protoSPDY31
	case "websocket":
		for _, p := range splitProtocolHeader(r.Header.Get("Sec-WebSocket-Protocol")) {
			if p == websocketProtocol {
				return protoWebSocketV4
			}
		}
	}
	return protoNone
}

func splitProtocolHeader(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
