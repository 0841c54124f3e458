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

// Package creds loads and verifies the flat-file bcrypt credential store
// used to authenticate incoming SSH connections.
package creds

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/gateway/errtax"
)

var logger = logutil.GetLogger("boxsh-creds")

// ErrConfigMissing is returned by Load when the credential file does not exist.
// Startup treats it as fatal (errtax.ConfigMissing).
var ErrConfigMissing = errtax.New(errtax.ConfigMissing, fmt.Errorf("credential file not found"))

// Store is an in-memory, read-only-after-load mapping of username to
// bcrypt password hash. It is safe for concurrent reads from multiple
// goroutines since it is never mutated after Load returns.
type Store struct {
	users map[string]string
}

// Load reads path line by line, skipping blank lines and comment lines
// (first non-whitespace character '#'). Each remaining line is split on
// the first ':' into (username, hash); malformed lines are reported and
// skipped rather than treated as fatal. If a username repeats, the last
// occurrence wins.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigMissing
		}

		return nil, fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)

	scanner := bufio.NewScanner(f)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		username, hash, ok := strings.Cut(line, ":")
		if !ok || username == "" {
			logger.Warnf("invalid line %d in credential file: skipped", lineNo)

			continue
		}

		users[username] = hash
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	logger.Infof("loaded %d user(s) from %s", len(users), path)

	return &Store{users: users}, nil
}

// Verify reports whether password matches the stored hash for username.
// An unknown username returns false; no attempt is made to equalize
// timing against the bcrypt comparison for a known user.
func (s *Store) Verify(username, password string) bool {
	hash, ok := s.users[username]
	if !ok {
		return false
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// Len returns the number of loaded credential records.
func (s *Store) Len() int {
	return len(s.users)
}
