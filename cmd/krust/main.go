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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/config"
	"github.com/krust-sh/krust/internal/server"
)

func main() {
	cfg := config.AddFlags(flag.CommandLine)
	flag.Parse()
	defer glog.Flush()

	srv, err := server.New(cfg)
	if err != nil {
		glog.Fatalf("failed to build krust server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		glog.Fatalf("krust server exited with error: %v", err)
	}
}
