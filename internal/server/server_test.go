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

package server

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/krust-sh/krust/internal/config"
	"github.com/krust-sh/krust/pkg/api"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := config.AddFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.DBPath = filepath.Join(t.TempDir(), "krust.db")
	cfg.BindAddress = "127.0.0.1:0"
	cfg.DebugAddress = "127.0.0.1:0"

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.st.Close() })
	return s
}

func TestSeedNodeCreatesNodeOnce(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if err := s.seedNode(ctx); err != nil {
		t.Fatalf("seedNode: %v", err)
	}
	nodeKind, _ := api.ByKind("Node")
	if _, err := s.svc.Get(ctx, nodeKind, "", s.cfg.NodeName); err != nil {
		t.Fatalf("expected the seeded node to exist: %v", err)
	}

	// Calling seedNode again against an already-seeded store must be a
	// no-op, not a duplicate-name conflict.
	if err := s.seedNode(ctx); err != nil {
		t.Fatalf("seedNode should be idempotent: %v", err)
	}
}
