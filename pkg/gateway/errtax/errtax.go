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

// Package errtax defines the gateway's stable error-code taxonomy, used in
// place of raw error strings so that startup failures, per-session
// failures, and log output can all key off a fixed, small vocabulary.
package errtax

import "fmt"

// Code is one of the named error kinds the gateway recognizes.
type Code string

const (
	// ConfigMissing: credential file absent. Startup; fatal.
	ConfigMissing Code = "ConfigMissing"
	// HostKeyMissing: host key absent. Startup; fatal.
	HostKeyMissing Code = "HostKeyMissing"
	// RuntimeUnavailable: container runtime cannot be reached. Startup; fatal.
	RuntimeUnavailable Code = "RuntimeUnavailable"
	// AuthFailed: password did not verify. Per-attempt; client-visible.
	AuthFailed Code = "AuthFailed"
	// ProvisionFailed: container could not be created or exec could not be
	// opened. Per-session; session ends with channel exit 1.
	ProvisionFailed Code = "ProvisionFailed"
	// PumpIOError: unrecoverable read/write on either side. Per-session;
	// triggers teardown.
	PumpIOError Code = "PumpIOError"
	// TeardownPartial: kill or remove failed. Logged; does not propagate.
	TeardownPartial Code = "TeardownPartial"
	// ResizeFailed: resize API error. Logged; session continues.
	ResizeFailed Code = "ResizeFailed"
)

// Error wraps an underlying cause with a stable Code, so callers can branch
// on taxonomy rather than matching error text.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Code)
	}

	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error for code, wrapping cause (which may be nil).
func New(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// Is reports whether err carries code, anywhere in its unwrap chain.
func Is(err error, code Code) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			if te.Code == code {
				return true
			}

			err = te.Cause

			continue
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}
