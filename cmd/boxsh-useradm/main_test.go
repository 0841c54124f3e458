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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestAddUserToFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	if err := addUser(path, "alice", "hunter2"); err != nil {
		t.Fatalf("addUser: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}

	if !strings.HasPrefix(string(contents), "alice:") {
		t.Fatalf("expected file to start with alice:, got %q", contents)
	}

	hash := strings.TrimSpace(strings.TrimPrefix(string(contents), "alice:"))
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Fatalf("stored hash does not verify password: %v", err)
	}
}

func TestAddUserDuplicateRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	if err := addUser(path, "alice", "hunter2"); err != nil {
		t.Fatalf("first addUser: %v", err)
	}

	err := addUser(path, "alice", "different")
	if err == nil {
		t.Fatal("expected error adding duplicate username")
	}
}

func TestAddUserAppendsWithoutDisturbingExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	if err := addUser(path, "alice", "pw1"); err != nil {
		t.Fatalf("addUser alice: %v", err)
	}

	if err := addUser(path, "bob", "pw2"); err != nil {
		t.Fatalf("addUser bob: %v", err)
	}

	exists, err := userExists(path, "alice")
	if err != nil || !exists {
		t.Fatalf("expected alice to still exist, err=%v exists=%v", err, exists)
	}

	exists, err = userExists(path, "bob")
	if err != nil || !exists {
		t.Fatalf("expected bob to exist, err=%v exists=%v", err, exists)
	}
}

func TestUserExistsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.txt")

	exists, err := userExists(path, "alice")
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}

	if exists {
		t.Fatal("expected exists=false for a missing file")
	}
}

func TestUserExistsSkipsCommentsAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	if err := os.WriteFile(path, []byte("# comment\n\nalice:somehash\n"), 0o600); err != nil {
		t.Fatalf("write credential file: %v", err)
	}

	exists, err := userExists(path, "alice")
	if err != nil || !exists {
		t.Fatalf("expected alice to exist, err=%v exists=%v", err, exists)
	}
}
