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

// Package session implements the per-connection state machine: it owns
// exactly one container handle, one exec handle, and one pump, and runs
// exactly one teardown on every exit path. A session is never reused
// across connections.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/gateway/container"
	"boxsh/pkg/gateway/creds"
	"boxsh/pkg/gateway/errtax"
	"boxsh/pkg/gateway/monitor"
	"boxsh/pkg/gateway/pump"
)

var logger = logutil.GetLogger("boxsh-session")

// State names one node of the session lifecycle.
type State int

const (
	StateNew State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateProvisioning
	StateAttaching
	StateRunning
	StateTeardown
	StateGone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateRejected:
		return "REJECTED"
	case StateProvisioning:
		return "PROVISIONING"
	case StateAttaching:
		return "ATTACHING"
	case StateRunning:
		return "RUNNING"
	case StateTeardown:
		return "TEARDOWN"
	case StateGone:
		return "GONE"
	default:
		return "UNKNOWN"
	}
}

// ErrWrongState is returned when an operation is attempted from a state
// that does not permit it.
type ErrWrongState struct {
	Op    string
	State State
}

func (e *ErrWrongState) Error() string {
	return fmt.Sprintf("session: cannot %s from state %s", e.Op, e.State)
}

// Session is a single authenticated SSH connection's lifecycle: it owns
// exactly one container.Handle, one container.ExecHandle, and one
// pump.Pump.
type Session struct {
	ID       string
	Username string

	controller container.Controller

	mu    sync.Mutex
	state State

	handle container.Handle
	exec   container.ExecHandle
	pump   *pump.Pump

	teardownOnce sync.Once
}

// New creates a Session in StateNew for username, bound to controller for
// its container lifecycle.
func New(id, username string, controller container.Controller) *Session {
	return &Session{ID: id, Username: username, controller: controller, state: StateNew}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Authenticate transitions NEW -> AUTHENTICATING -> AUTHENTICATED (or
// REJECTED), verifying password against store. Each call is a single
// attempt: both REJECTED and AUTHENTICATED are terminal, so any call after
// the first returns ErrWrongState. Repeated password attempts on one
// connection are handled by the SSH layer's own auth callback instead
// (see MarkAuthenticated).
func (s *Session) Authenticate(store *creds.Store, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateNew, StateAuthenticating:
		s.state = StateAuthenticating
	default:
		return &ErrWrongState{Op: "authenticate", State: s.state}
	}

	if !store.Verify(s.Username, password) {
		s.state = StateRejected

		return errtax.New(errtax.AuthFailed, fmt.Errorf("password did not verify for %s", s.Username))
	}

	s.state = StateAuthenticated

	return nil
}

// MarkAuthenticated transitions a fresh Session straight to AUTHENTICATED
// without re-verifying a password. It exists for front-ends (like the SSH
// server) where password verification already happened at the transport
// layer's own auth callback, so C1 is consulted exactly once per attempt
// rather than twice.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAuthenticated
}

// RequestShell transitions AUTHENTICATED -> PROVISIONING -> ATTACHING ->
// RUNNING: it provisions a container, opens its exec instance, builds
// the pump, and starts it. onEOF/onFatal are the pump's completion
// callbacks (see pump.Pump.Start); they are invoked at most once.
func (s *Session) RequestShell(ctx context.Context, ch pump.Channel, onEOF func(), onFatal func(error)) error {
	s.mu.Lock()

	if s.state != StateAuthenticated {
		err := &ErrWrongState{Op: "request shell", State: s.state}
		s.mu.Unlock()

		return err
	}

	s.state = StateProvisioning
	s.mu.Unlock()

	handle, err := s.controller.Provision(ctx, s.Username)
	if err != nil {
		// State remains PROVISIONING; caller drives the channel to
		// exit(1) and calls Teardown, which transitions to GONE.
		return err
	}

	s.mu.Lock()
	s.handle = handle
	s.state = StateAttaching
	s.mu.Unlock()

	exec, err := s.controller.OpenExec(ctx, handle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.exec = exec
	p := pump.New(ch, execSocket{exec})
	s.pump = p
	s.state = StateRunning
	s.mu.Unlock()

	monitor.SessionsStarted.WithLabelValues().Inc()

	p.Start(onEOF, onFatal)

	return nil
}

// Resize forwards a terminal-resize request to the container controller.
// Per spec, resize is ignored (no error surfaced) outside RUNNING.
func (s *Session) Resize(ctx context.Context, cols, rows int) {
	s.mu.Lock()
	running := s.state == StateRunning
	exec := s.exec
	s.mu.Unlock()

	if !running {
		return
	}

	if err := s.controller.Resize(ctx, exec, cols, rows); err != nil {
		logger.WithField("session", s.ID).Warnf("resize failed: %v", err)
	}
}

// WriteToContainer forwards client bytes to the container synchronously.
// It is a no-op before RUNNING.
func (s *Session) WriteToContainer(b []byte) (int, error) {
	s.mu.Lock()
	p := s.pump
	s.mu.Unlock()

	if p == nil {
		return 0, nil
	}

	return p.WriteToContainer(b)
}

// HandleClientEOF half-closes the exec socket when the SSH client signals
// EOF, without tearing the session down.
func (s *Session) HandleClientEOF() {
	s.mu.Lock()
	p := s.pump
	s.mu.Unlock()

	if p != nil {
		_ = p.HandleClientEOF()
	}
}

// Teardown cancels the pump, closes the exec socket, and asks the
// controller to kill+remove the container. It runs exactly once per
// session, regardless of how many times or from which goroutine it is
// called, and never returns an error the caller is expected to act on:
// partial teardown is logged, never raised.
func (s *Session) Teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		outcome := strings.ToLower(s.state.String())
		s.state = StateTeardown
		p := s.pump
		handle := s.handle
		hadContainer := handle.ID != ""
		s.mu.Unlock()

		monitor.SessionsEnded.WithLabelValues(outcome).Inc()

		if p != nil {
			p.Stop()
		}

		if hadContainer {
			if err := s.controller.Teardown(ctx, handle); err != nil {
				logger.WithField("session", s.ID).Warnf("teardown partial: %v", err)
			}
		}

		s.mu.Lock()
		s.state = StateGone
		s.mu.Unlock()
	})
}

// execSocket adapts container.ExecHandle.Stream (an io.ReadWriteCloser)
// into the pump.ExecSocket interface, forwarding SetReadDeadline when the
// underlying stream supports it and treating streams that don't (e.g. an
// in-memory pipe in tests) as having no deadline.
type execSocket struct {
	h container.ExecHandle
}

func (e execSocket) Read(p []byte) (int, error)  { return e.h.Stream.Read(p) }
func (e execSocket) Write(p []byte) (int, error) { return e.h.Stream.Write(p) }
func (e execSocket) Close() error                { return e.h.Stream.Close() }

func (e execSocket) SetReadDeadline(t time.Time) error {
	type deadlineSetter interface {
		SetReadDeadline(t time.Time) error
	}

	if ds, ok := e.h.Stream.(deadlineSetter); ok {
		return ds.SetReadDeadline(t)
	}

	return nil
}
