// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package container

import (
	"strings"
	"testing"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	if cfg.Image != DefaultImage {
		t.Errorf("expected default image %q, got %q", DefaultImage, cfg.Image)
	}

	if cfg.MemoryMB != DefaultMemoryMB {
		t.Errorf("expected default memory %d, got %d", DefaultMemoryMB, cfg.MemoryMB)
	}

	if cfg.NanoCPUs != DefaultNanoCPUs {
		t.Errorf("expected default nano-cpus %d, got %d", DefaultNanoCPUs, cfg.NanoCPUs)
	}
}

func TestConfigWithDefaultsPreservesOverrides(t *testing.T) {
	cfg := Config{Image: "alpine:3.19", MemoryMB: 1024, NanoCPUs: 1_000_000_000}.WithDefaults()

	if cfg.Image != "alpine:3.19" {
		t.Errorf("expected override image preserved, got %q", cfg.Image)
	}

	if cfg.MemoryMB != 1024 {
		t.Errorf("expected override memory preserved, got %d", cfg.MemoryMB)
	}

	if cfg.NanoCPUs != 1_000_000_000 {
		t.Errorf("expected override cpus preserved, got %d", cfg.NanoCPUs)
	}
}

func TestContainerNameFormat(t *testing.T) {
	name := ContainerName("alice")

	if !strings.HasPrefix(name, "session_alice_") {
		t.Fatalf("expected name to start with session_alice_, got %q", name)
	}

	suffix := strings.TrimPrefix(name, "session_alice_")
	if len(suffix) != 36 {
		t.Fatalf("expected a 36-character uuid-v4 suffix, got %q (%d chars)", suffix, len(suffix))
	}
}

func TestContainerNameUniquePerCall(t *testing.T) {
	a := ContainerName("bob")
	b := ContainerName("bob")

	if a == b {
		t.Fatalf("expected distinct names across calls, got %q twice", a)
	}
}
