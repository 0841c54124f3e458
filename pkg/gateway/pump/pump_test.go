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

package pump

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeChannel is an in-memory stand-in for an SSH channel.
type fakeChannel struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	closeWrote bool
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.buf.Write(p)
}

func (f *fakeChannel) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeWrote = true

	return nil
}

func (f *fakeChannel) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.buf.String()
}

func (f *fakeChannel) wasClosedForWrite() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closeWrote
}

// fakeTimeoutError satisfies net.Error so isTimeout recognizes it.
type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

// fakeExecSocket is an in-memory, scriptable stand-in for a container
// exec socket: Read consumes from a queue of canned responses, Write
// appends to an observable buffer.
type fakeExecSocket struct {
	mu       sync.Mutex
	reads    []func(buf []byte) (int, error)
	readIdx  int
	writeBuf bytes.Buffer
	closed   bool
	blockCh  chan struct{}
}

func newFakeExecSocket(reads ...func([]byte) (int, error)) *fakeExecSocket {
	return &fakeExecSocket{reads: reads, blockCh: make(chan struct{})}
}

func (f *fakeExecSocket) Read(buf []byte) (int, error) {
	f.mu.Lock()
	idx := f.readIdx
	f.readIdx++
	f.mu.Unlock()

	if idx >= len(f.reads) {
		// Once the script runs dry, block until Close unblocks us,
		// simulating a real socket that hangs until torn down.
		<-f.blockCh

		return 0, io.ErrClosedPipe
	}

	return f.reads[idx](buf)
}

func (f *fakeExecSocket) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writeBuf.Write(p)
}

func (f *fakeExecSocket) Close() error {
	f.mu.Lock()
	alreadyClosed := f.closed
	f.closed = true
	f.mu.Unlock()

	if !alreadyClosed {
		close(f.blockCh)
	}

	return nil
}

func (f *fakeExecSocket) SetReadDeadline(time.Time) error { return nil }

func (f *fakeExecSocket) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writeBuf.String()
}

func TestWriteToContainerIsSynchronousAndByteTransparent(t *testing.T) {
	sock := newFakeExecSocket()
	ch := &fakeChannel{}
	p := New(ch, sock)

	n, err := p.WriteToContainer([]byte("echo hi\n"))
	if err != nil {
		t.Fatalf("WriteToContainer: %v", err)
	}

	if n != len("echo hi\n") {
		t.Fatalf("expected %d bytes written, got %d", len("echo hi\n"), n)
	}

	if sock.writtenString() != "echo hi\n" {
		t.Fatalf("expected exact bytes forwarded, got %q", sock.writtenString())
	}
}

func TestReadLoopTimeoutIsNotEOF(t *testing.T) {
	sock := newFakeExecSocket(
		func([]byte) (int, error) { return 0, fakeTimeoutError{} },
		func(buf []byte) (int, error) { return copy(buf, "ok"), nil },
	)
	ch := &fakeChannel{}
	p := New(ch, sock)

	eofCh := make(chan struct{})
	fatalCh := make(chan error, 1)

	p.Start(func() { close(eofCh) }, func(err error) { fatalCh <- err })
	defer p.Stop()

	deadline := time.After(2 * time.Second)

	for {
		if ch.String() == "ok" {
			break
		}

		select {
		case <-eofCh:
			t.Fatal("unexpected EOF callback after a mere timeout")
		case err := <-fatalCh:
			t.Fatalf("unexpected fatal error after a mere timeout: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for post-timeout read to be forwarded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReadLoopEOFClosesChannelWrite(t *testing.T) {
	sock := newFakeExecSocket(
		func([]byte) (int, error) { return 0, io.EOF },
	)
	ch := &fakeChannel{}
	p := New(ch, sock)

	eofCh := make(chan struct{})

	p.Start(func() { close(eofCh) }, func(error) { t.Error("unexpected fatal callback on clean EOF") })

	select {
	case <-eofCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected onEOF to fire on container EOF")
	}

	if !ch.wasClosedForWrite() {
		t.Fatal("expected channel write side to be half-closed on container EOF")
	}
}

func TestReadLoopFatalErrorInvokesOnFatal(t *testing.T) {
	boom := errors.New("boom")
	sock := newFakeExecSocket(
		func([]byte) (int, error) { return 0, boom },
	)
	ch := &fakeChannel{}
	p := New(ch, sock)

	fatalCh := make(chan error, 1)

	p.Start(func() { t.Error("unexpected onEOF for a non-EOF error") }, func(err error) { fatalCh <- err })

	select {
	case err := <-fatalCh:
		if err == nil {
			t.Fatal("expected a non-nil fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected onFatal to fire on unrecoverable read error")
	}
}

func TestStopIsIdempotentAndClosesSocket(t *testing.T) {
	sock := newFakeExecSocket(
		func([]byte) (int, error) { return 0, fakeTimeoutError{} },
	)
	ch := &fakeChannel{}
	p := New(ch, sock)

	p.Start(func() {}, func(error) {})

	p.Stop()
	p.Stop() // must not panic or block

	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()

	if !closed {
		t.Fatal("expected Stop to close the exec socket")
	}
}

func TestHandleClientEOFHalfClosesExecSocket(t *testing.T) {
	sock := &halfCloseSocket{fakeExecSocket: newFakeExecSocket()}
	ch := &fakeChannel{}
	p := New(ch, sock)

	if err := p.HandleClientEOF(); err != nil {
		t.Fatalf("HandleClientEOF: %v", err)
	}

	if !sock.closedWrite {
		t.Fatal("expected exec socket write side to be half-closed")
	}
}

// halfCloseSocket additionally exposes CloseWrite, exercising the
// type-asserted half-close path in HandleClientEOF.
type halfCloseSocket struct {
	*fakeExecSocket
	closedWrite bool
}

func (h *halfCloseSocket) CloseWrite() error {
	h.closedWrite = true

	return nil
}
