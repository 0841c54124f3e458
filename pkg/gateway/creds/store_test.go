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

package creds

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writeUsersFile(t *testing.T, contents string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "users.txt")

	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write users file: %v", err)
	}

	return path
}

func hashFor(t *testing.T, password string) string {
	t.Helper()

	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	return string(h)
}

func TestLoadMissingFileIsConfigMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	if err != ErrConfigMissing {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	hash := hashFor(t, "secret")
	path := writeUsersFile(t, "# a comment\n\n   # indented comment\nalice:"+hash+"\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("expected 1 user, got %d", store.Len())
	}

	if !store.Verify("alice", "secret") {
		t.Fatalf("expected alice/secret to verify")
	}
}

func TestLoadSkipsMalformedLineWithoutCrashing(t *testing.T) {
	hash := hashFor(t, "secret")
	path := writeUsersFile(t, "this line has no colon\nalice:"+hash+"\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("expected 1 user (malformed line skipped), got %d", store.Len())
	}
}

func TestLoadSplitsOnFirstColonOnly(t *testing.T) {
	// A bcrypt hash itself contains '$' but never ':', so craft a case where
	// extra colons appear after the hash to confirm split-on-first behavior.
	hash := hashFor(t, "secret")
	path := writeUsersFile(t, "alice:"+hash+":extra:fields\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := store.users["alice"]; got != hash+":extra:fields" {
		t.Fatalf("expected hash field kept verbatim after the first colon, got %q", got)
	}

	// The hash field now has trailing garbage appended, so bcrypt comparison
	// must fail even though parsing did not error.
	if store.Verify("alice", "secret") {
		t.Fatalf("expected verify to fail once hash has trailing garbage")
	}
}

func TestLoadDuplicateUsernameLastWins(t *testing.T) {
	oldHash := hashFor(t, "old-password")
	newHash := hashFor(t, "new-password")
	path := writeUsersFile(t, "alice:"+oldHash+"\nalice:"+newHash+"\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Verify("alice", "old-password") {
		t.Fatalf("expected stale password to no longer verify")
	}

	if !store.Verify("alice", "new-password") {
		t.Fatalf("expected last occurrence's password to verify")
	}
}

func TestVerifyUnknownUser(t *testing.T) {
	path := writeUsersFile(t, "alice:"+hashFor(t, "secret")+"\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Verify("mallory", "anything") {
		t.Fatalf("expected unknown user to fail verification")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	path := writeUsersFile(t, "alice:"+hashFor(t, "secret")+"\n")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Verify("alice", "wrong") {
		t.Fatalf("expected wrong password to fail verification")
	}
}

func TestLoadIdempotentOutputs(t *testing.T) {
	path := writeUsersFile(t, "alice:"+hashFor(t, "secret")+"\nbob:"+hashFor(t, "hunter2")+"\n")

	s1, err := Load(path)
	if err != nil {
		t.Fatalf("Load 1: %v", err)
	}

	s2, err := Load(path)
	if err != nil {
		t.Fatalf("Load 2: %v", err)
	}

	if s1.Len() != s2.Len() {
		t.Fatalf("expected same user count across loads")
	}

	for _, pair := range [][2]string{{"alice", "secret"}, {"bob", "hunter2"}} {
		if s1.Verify(pair[0], pair[1]) != s2.Verify(pair[0], pair[1]) {
			t.Fatalf("expected identical verification outcome for %s", pair[0])
		}
	}
}
