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

// Package pump forwards bytes between an SSH channel and a container exec
// socket in both directions. Client→container writes happen synchronously
// on the caller's goroutine (the SSH receive path); container→client bytes
// are read by a dedicated goroutine and dispatched to a blocking SSH-write
// worker, so neither direction can stall the other.
package pump

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/gateway/errtax"
)

var logger = logutil.GetLogger("boxsh-pump")

// ReadTimeout bounds each blocking read on the container exec socket. A
// timeout is not an error: the read loop re-enters so it can notice
// teardown on the next iteration.
const ReadTimeout = 60 * time.Second

const writeQueueDepth = 64

// Channel is the minimal surface the pump needs from an SSH channel:
// writing bytes out to the client, and half-closing when the container
// side reaches EOF.
type Channel interface {
	io.Writer
	CloseWrite() error
}

// ExecSocket is the minimal surface the pump needs from a container exec
// stream: a byte-transparent, deadline-capable duplex connection.
type ExecSocket interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// Pump bridges one SSH channel and one container exec socket for exactly
// one session. It never outlives the session that owns it, and never
// touches the container's lifecycle directly — teardown is the session's
// responsibility.
type Pump struct {
	ch   Channel
	sock ExecSocket

	done     chan struct{}
	stopOnce sync.Once

	writeCh chan []byte
	writeWg chan struct{}
}

// New builds a Pump over an already-open SSH channel and exec socket.
func New(ch Channel, sock ExecSocket) *Pump {
	return &Pump{
		ch:      ch,
		sock:    sock,
		done:    make(chan struct{}),
		writeCh: make(chan []byte, writeQueueDepth),
		writeWg: make(chan struct{}),
	}
}

// WriteToContainer forwards client-read bytes to the container
// synchronously, on the caller's goroutine — this is the SSH receive
// callback's responsibility per the spec's directionality requirement,
// never buffered beyond the underlying transport.
func (p *Pump) WriteToContainer(b []byte) (int, error) {
	n, err := p.sock.Write(b)
	if err != nil {
		return n, errtax.New(errtax.PumpIOError, err)
	}

	return n, nil
}

// HandleClientEOF half-closes the exec socket's write side when the SSH
// client signals EOF, without tearing down the pump itself — the
// container may still have output in flight.
func (p *Pump) HandleClientEOF() error {
	type closeWriter interface {
		CloseWrite() error
	}

	if cw, ok := p.sock.(closeWriter); ok {
		return cw.CloseWrite()
	}

	return nil
}

// Start launches the background container→client reader. onEOF is called
// exactly once, when the container closes its end of the socket normally
// (zero-length read with io.EOF); onFatal is called exactly once on any
// unrecoverable read or write error. At most one of the two is ever
// invoked. Neither callback is invoked after Stop has been called.
func (p *Pump) Start(onEOF func(), onFatal func(error)) {
	var once sync.Once

	eof := func() { once.Do(onEOF) }
	fatal := func(err error) { once.Do(func() { onFatal(err) }) }

	go p.writeWorker(fatal)
	go p.readLoop(eof, fatal)
}

func (p *Pump) readLoop(onEOF func(), onFatal func(error)) {
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.sock.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			p.fail(onFatal, errtax.New(errtax.PumpIOError, err))

			return
		}

		n, err := p.sock.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])

			select {
			case p.writeCh <- cp:
			case <-p.done:
				return
			}
		}

		if err != nil {
			select {
			case <-p.done:
				// Stop() closed the socket out from under us; this is an
				// expected cancellation, not a pump failure.
				return
			default:
			}

			if isTimeout(err) {
				// Not an error: re-enter the loop so teardown can be
				// noticed on the next iteration.
				continue
			}

			if errors.Is(err, io.EOF) {
				p.closeWrite()
				onEOF()

				return
			}

			p.fail(onFatal, errtax.New(errtax.PumpIOError, err))

			return
		}
	}
}

func (p *Pump) writeWorker(onFatal func(error)) {
	defer close(p.writeWg)

	for {
		select {
		case b, ok := <-p.writeCh:
			if !ok {
				return
			}

			if _, err := p.ch.Write(b); err != nil {
				p.fail(onFatal, errtax.New(errtax.PumpIOError, err))

				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Pump) closeWrite() {
	if err := p.ch.CloseWrite(); err != nil {
		logger.Debugf("channel close-write: %v", err)
	}
}

func (p *Pump) fail(onFatal func(error), err error) {
	logger.Warnf("pump io error: %v", err)
	onFatal(err)
}

// Stop cancels the pump. It is idempotent, and causes any in-flight
// blocking read to unblock within ReadTimeout. It releases the pump's
// hold on the exec socket but does not touch the container.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		_ = p.sock.Close()
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}
