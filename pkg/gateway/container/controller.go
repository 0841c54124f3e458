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

// Package container provisions, attaches to, resizes, and tears down the
// throwaway, resource-limited containers that back each gateway session.
// A single Controller interface is satisfied by two backends: Docker
// (default) and containerd (alternate), selected at startup by config.
package container

import (
	"context"
	"fmt"
	"io"
)

const (
	// DefaultImage is the fixed image every session's container is created
	// from.
	DefaultImage = "ubuntu:20.04"

	// DefaultMemoryMB is the default memory limit, in mebibytes.
	DefaultMemoryMB = 512

	// DefaultNanoCPUs is the default CPU limit, expressed in nano-CPUs
	// (0.5 CPU equivalent).
	DefaultNanoCPUs = 500_000_000

	// Shell is the command run both as the container's entrypoint and as
	// the interactive exec target inside it.
	Shell = "/bin/bash"
)

// Config bounds the resources a provisioned container may use, and names
// the image it is created from.
type Config struct {
	Image    string
	MemoryMB int64
	NanoCPUs int64
}

// WithDefaults returns a copy of c with zero-valued fields replaced by the
// package defaults.
func (c Config) WithDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}

	if c.MemoryMB <= 0 {
		c.MemoryMB = DefaultMemoryMB
	}

	if c.NanoCPUs <= 0 {
		c.NanoCPUs = DefaultNanoCPUs
	}

	return c
}

// Handle identifies a provisioned container exclusively owned by one
// session.
type Handle struct {
	ID   string
	Name string
}

// ExecHandle identifies the TTY-backed /bin/bash exec instance attached to
// a container, plus the full-duplex byte stream multiplexed over it.
type ExecHandle struct {
	ID     string
	Stream io.ReadWriteCloser
}

// Controller is implemented by every container-runtime backend the
// gateway can provision sessions against.
type Controller interface {
	// EnsureImageAvailable checks whether the configured image is present
	// locally, pulling it if not. Called once at startup; a failure here
	// is RuntimeUnavailable.
	EnsureImageAvailable(ctx context.Context) error

	// Provision creates a running, resource-limited container for
	// username and returns its Handle. Fails with ProvisionFailed.
	Provision(ctx context.Context, username string) (Handle, error)

	// OpenExec creates and starts a TTY-backed /bin/bash exec instance
	// inside handle's container, in socket mode. Fails with
	// ProvisionFailed.
	OpenExec(ctx context.Context, handle Handle) (ExecHandle, error)

	// Resize changes the TTY dimensions of an open exec instance.
	// Failures are reported to the caller (who logs and discards them
	// per spec — resize failures never terminate a session) rather than
	// panicking or blocking.
	Resize(ctx context.Context, exec ExecHandle, cols, rows int) error

	// Teardown kills then removes handle's container. Both steps are
	// attempted independently of one another's outcome; Teardown itself
	// never returns an error it expects the caller to act on beyond
	// logging — callers should treat any returned error as
	// TeardownPartial. Idempotent.
	Teardown(ctx context.Context, handle Handle) error
}

// Runtime names the container-runtime backend a Controller talks to.
type Runtime string

const (
	RuntimeDocker     Runtime = "docker"
	RuntimeContainerd Runtime = "containerd"
)

// ErrNilClient is returned by backend constructors when given a nil
// underlying runtime client.
var ErrNilClient = fmt.Errorf("container runtime client is nil")
