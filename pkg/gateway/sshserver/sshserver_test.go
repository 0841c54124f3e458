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

package sshserver

import (
	"encoding/binary"
	"testing"
)

func buildPTYPayload(term string, cols, rows uint32) []byte {
	buf := make([]byte, 4+len(term)+8+16)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(term)))
	copy(buf[4:], term)

	offset := 4 + len(term)
	binary.BigEndian.PutUint32(buf[offset:], cols)
	binary.BigEndian.PutUint32(buf[offset+4:], rows)

	return buf
}

func TestParsePTYRequest(t *testing.T) {
	payload := buildPTYPayload("xterm-256color", 120, 40)

	cols, rows := parsePTYRequest(payload, 80, 24)
	if cols != 120 || rows != 40 {
		t.Fatalf("expected 120x40, got %dx%d", cols, rows)
	}
}

func TestParsePTYRequestTooShortKeepsDefaults(t *testing.T) {
	cols, rows := parsePTYRequest([]byte{0x00}, 80, 24)
	if cols != 80 || rows != 24 {
		t.Fatalf("expected defaults preserved, got %dx%d", cols, rows)
	}
}

func TestParsePTYRequestTruncatedAfterTermKeepsDefaults(t *testing.T) {
	// Claims a term string longer than what's actually present.
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 100)

	cols, rows := parsePTYRequest(payload, 80, 24)
	if cols != 80 || rows != 24 {
		t.Fatalf("expected defaults preserved on truncated payload, got %dx%d", cols, rows)
	}
}

func TestParseWindowChange(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], 200)
	binary.BigEndian.PutUint32(payload[4:8], 60)

	cols, rows, ok := parseWindowChange(payload)
	if !ok {
		t.Fatal("expected ok=true for well-formed payload")
	}

	if cols != 200 || rows != 60 {
		t.Fatalf("expected 200x60, got %dx%d", cols, rows)
	}
}

func TestParseWindowChangeTooShort(t *testing.T) {
	_, _, ok := parseWindowChange([]byte{0x01, 0x02})
	if ok {
		t.Fatal("expected ok=false for undersized payload")
	}
}

func TestExitStatusPayloadEncoding(t *testing.T) {
	payload := exitStatusPayload(1)
	if len(payload) != 4 {
		t.Fatalf("expected 4-byte exit-status payload, got %d bytes", len(payload))
	}

	if binary.BigEndian.Uint32(payload) != 1 {
		t.Fatalf("expected decoded exit status 1, got %d", binary.BigEndian.Uint32(payload))
	}
}

func TestGenerateSessionIDUnique(t *testing.T) {
	a := generateSessionID()
	b := generateSessionID()

	if a == b {
		t.Fatalf("expected distinct session ids, got %q twice", a)
	}

	if len(a) != 32 {
		t.Fatalf("expected a 32-character hex session id, got %q (%d chars)", a, len(a))
	}
}
