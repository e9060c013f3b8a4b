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

package config

import (
	"flag"
	"testing"
)

func TestAddFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := AddFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.BindAddress != ":6443" {
		t.Fatalf("got BindAddress %q", c.BindAddress)
	}
	if c.DBPath != "./krust.db" {
		t.Fatalf("got DBPath %q", c.DBPath)
	}
	if c.WorkersCount != 5 {
		t.Fatalf("got WorkersCount %d", c.WorkersCount)
	}
	if c.NodeName != "krust-node" {
		t.Fatalf("got NodeName %q", c.NodeName)
	}
}

func TestAddFlagsOverridesFromArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := AddFlags(fs)
	if err := fs.Parse([]string{"-bind-address=:8080", "-node-name=dev", "-workers-count=2"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.BindAddress != ":8080" {
		t.Fatalf("got BindAddress %q", c.BindAddress)
	}
	if c.NodeName != "dev" {
		t.Fatalf("got NodeName %q", c.NodeName)
	}
	if c.WorkersCount != 2 {
		t.Fatalf("got WorkersCount %d", c.WorkersCount)
	}
}
