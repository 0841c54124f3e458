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

// Command boxsh-useradm appends username:bcrypt-hash records to a boxsh
// gateway credential file. It is the administrative counterpart of
// pkg/gateway/creds: the gateway only ever reads the file this writes.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var usersFile string

func main() {
	cmd := &cobra.Command{
		Use:   "boxsh-useradm <username> [password]",
		Short: "Add a user to a boxsh gateway credential file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			password := ""
			if len(args) == 2 {
				password = args[1]
			} else {
				p, err := promptPassword()
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}

				password = p
			}

			return addUser(usersFile, username, password)
		},
	}

	cmd.Flags().StringVarP(&usersFile, "file", "f", "users.txt", "path to the credential file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// promptPassword reads a password from the controlling terminal without
// echoing it, for operators who'd rather not leave the plaintext password
// in their shell history.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")

	b, err := term.ReadPassword(int(os.Stdin.Fd()))

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(b), nil
}

func addUser(path, username, password string) error {
	exists, err := userExists(path, username)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("user %q already exists", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s:%s\n", username, hash); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}

	fmt.Printf("user %q added successfully\n", username)

	return nil
}

// userExists mirrors the load-then-check pattern of manage_users.py: it
// scans path for an existing record for username, skipping blank lines
// and comments the same way pkg/gateway/creds.Load does.
func userExists(path, username string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		existing, _, ok := strings.Cut(line, ":")
		if ok && existing == username {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read credential file: %w", err)
	}

	return false, nil
}
