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

// Package sshserver is the gateway's front-end: it accepts TCP
// connections, completes the SSH transport and password-auth handshake,
// and drives the raw session-channel request loop (pty-req, window-change,
// shell) directly against golang.org/x/crypto/ssh, since that library has
// no higher-level server "session" abstraction to prefer instead.
package sshserver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/gateway/container"
	"boxsh/pkg/gateway/creds"
	"boxsh/pkg/gateway/errtax"
	"boxsh/pkg/gateway/monitor"
	"boxsh/pkg/gateway/session"
)

var logger = logutil.GetLogger("boxsh-sshserver")

const ptyReqMinLen = 4

// Config bounds a Server's listening behavior.
type Config struct {
	// ListenAddr is the TCP address to accept connections on, e.g. ":2222".
	ListenAddr string

	// HostKeyPath is the PEM/OpenSSH-format path of the persistent host
	// key. Its absence is fatal at startup (errtax.HostKeyMissing).
	HostKeyPath string
}

// Server is the gateway's SSH front-end. One Server serves any number of
// concurrent connections, each spawning its own session.Session.
type Server struct {
	cfg        Config
	sshConfig  *ssh.ServerConfig
	store      *creds.Store
	controller container.Controller

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New builds a Server. It loads the host key from cfg.HostKeyPath,
// returning errtax.HostKeyMissing if absent or unparsable.
func New(cfg Config, store *creds.Store, controller container.Controller) (*Server, error) {
	keyBytes, err := os.ReadFile(cfg.HostKeyPath)
	if err != nil {
		return nil, errtax.New(errtax.HostKeyMissing, err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, errtax.New(errtax.HostKeyMissing, fmt.Errorf("parse host key: %w", err))
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		controller: controller,
		sessions:   make(map[*session.Session]struct{}),
	}

	s.sshConfig = &ssh.ServerConfig{
		PasswordCallback: s.verifyPassword,
	}
	s.sshConfig.AddHostKey(signer)

	return s, nil
}

// verifyPassword is the only auth method offered: public-key,
// keyboard-interactive, host-based, and none are refused implicitly by
// never being configured on s.sshConfig.
func (s *Server) verifyPassword(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if s.store.Verify(conn.User(), string(password)) {
		return &ssh.Permissions{}, nil
	}

	// Per the error taxonomy, AuthFailed is never logged with password
	// material — only the username and remote address.
	logger.WithField("remote", conn.RemoteAddr().String()).Infof("auth failed for user %s", conn.User())
	monitor.AuthFailures.WithLabelValues().Inc()

	return nil, errtax.New(errtax.AuthFailed, fmt.Errorf("password rejected"))
}

// Serve accepts connections on cfg.ListenAddr until ctx is cancelled or
// an unrecoverable listener error occurs.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errtax.New(errtax.RuntimeUnavailable, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Infof("listening on %s", s.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			return err
		}

		go s.handleConn(ctx, conn)
	}
}

// Shutdown tears down every in-flight session. It does not close the
// listener; callers cancel the Serve context for that.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Teardown(ctx)
	}
}

func (s *Server) trackSession(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackSession(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, tcpConn net.Conn) {
	defer tcpConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(tcpConn, s.sshConfig)
	if err != nil {
		logger.Debugf("ssh handshake failed from %s: %v", tcpConn.RemoteAddr(), err)

		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")

			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}

		go s.handleChannel(ctx, ch, chReqs, sshConn.User())
	}
}

func (s *Server) handleChannel(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, username string) {
	defer ch.Close()

	sess := session.New(generateSessionID(), username, s.controller)
	// Authentication already happened at the transport layer via
	// verifyPassword; record it on the session for state-machine
	// consistency.
	sess.MarkAuthenticated()

	var cols, rows uint32 = 80, 24
	gotShell := false

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			cols, rows = parsePTYRequest(req.Payload, cols, rows)
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "window-change":
			c, r, ok := parseWindowChange(req.Payload)
			if ok {
				cols, rows = c, r
				sess.Resize(ctx, int(cols), int(rows))
			}

			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

			gotShell = true
			s.runShell(ctx, sess, ch, cols, rows)

			return
		default:
			// exec, subsystem, and everything else (SFTP, port-forward,
			// X11) are refused: this gateway is shell-only.
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}

	if !gotShell {
		sess.Teardown(ctx)
	}
}

func (s *Server) runShell(ctx context.Context, sess *session.Session, ch ssh.Channel, cols, rows uint32) {
	s.trackSession(sess)
	defer s.untrackSession(sess)
	defer sess.Teardown(ctx)

	done := make(chan struct{})

	onEOF := func() {
		_, _ = ch.SendRequest("exit-status", false, exitStatusPayload(0))
		close(done)
	}

	onFatal := func(err error) {
		logger.WithField("session", sess.ID).Warnf("pump error: %v", err)
		monitor.PumpErrors.WithLabelValues().Inc()
		close(done)
	}

	if err := sess.RequestShell(ctx, ch, onEOF, onFatal); err != nil {
		logger.WithField("session", sess.ID).Warnf("provisioning failed: %v", err)
		_, _ = ch.SendRequest("exit-status", false, exitStatusPayload(1))

		return
	}

	sess.Resize(ctx, int(cols), int(rows))

	readLoop(ch, sess)

	<-done
}

// readLoop synchronously forwards client bytes to the container — the
// SSH receive path — until the channel reports EOF or a read error.
func readLoop(ch ssh.Channel, sess *session.Session) {
	buf := make([]byte, 32*1024)

	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := sess.WriteToContainer(buf[:n]); werr != nil {
				return
			}
		}

		if err != nil {
			sess.HandleClientEOF()

			return
		}
	}
}

func parsePTYRequest(payload []byte, defCols, defRows uint32) (uint32, uint32) {
	if len(payload) < ptyReqMinLen {
		return defCols, defRows
	}

	termLen := binary.BigEndian.Uint32(payload[0:4])
	offset := 4 + termLen

	if int(offset+8) > len(payload) {
		return defCols, defRows
	}

	cols := binary.BigEndian.Uint32(payload[offset:])
	rows := binary.BigEndian.Uint32(payload[offset+4:])

	return cols, rows
}

func parseWindowChange(payload []byte) (cols, rows uint32, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}

	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), true
}

func exitStatusPayload(code uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, code)

	return buf
}

func generateSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)

	return hex.EncodeToString(b)
}
