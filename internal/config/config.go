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

// Package config declares krust's command-line flags, the same flag
// idiom the teacher's root main.go uses directly rather than a
// structured flags library (spec.md §6, SPEC_FULL.md ambient stack).
package config

import "flag"

// Config holds every flag krust's entrypoint understands.
type Config struct {
	BindAddress    string
	DBPath         string
	WorkersCount   int
	DebugAddress   string
	EventRetention string
	NodeName       string
}

// AddFlags registers krust's flags onto fs, mirroring the teacher's
// main.go flag registration (bind address, worker count, debug
// address) and adding the knobs SPEC_FULL.md's expansion calls for
// (db path, event retention window, seed node name).
func AddFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.BindAddress, "bind-address", ":6443", "address the HTTP Front End listens on")
	fs.StringVar(&c.DBPath, "db-path", "./krust.db", "path to the SQLite-shaped store file")
	fs.IntVar(&c.WorkersCount, "workers-count", 5, "number of reconcile workers per controller")
	fs.StringVar(&c.DebugAddress, "debug-addr", ":9999", "address the metrics/pprof endpoint listens on")
	fs.StringVar(&c.EventRetention, "event-retention", "1h", "how long the event log retains entries before pruning")
	fs.StringVar(&c.NodeName, "node-name", "krust-node", "name of the single Node seeded at startup")
	return c
}
