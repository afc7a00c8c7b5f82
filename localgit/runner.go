// Copyright 2024 The git-remote-qrexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package localgit wraps a local "git" subprocess down to exactly the three
// point-queries the fetch engine needs against the receiving repository:
// an object's type, its content, and a tree's entries. It deliberately does
// not expose the rest of Git's porcelain.
package localgit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const outputLimit = 10 << 20 // 10 MiB, matches the transport client's bound.

// Runner executes "git" subprocesses rooted at a single git directory.
type Runner struct {
	exe    string
	gitDir string
}

// NewRunner resolves the "git" executable on PATH and returns a Runner
// scoped to gitDir (the value of GIT_DIR).
func NewRunner(gitDir string) (*Runner, error) {
	exe, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("localgit: %w", err)
	}
	abs, err := filepath.Abs(gitDir)
	if err != nil {
		return nil, fmt.Errorf("localgit: %w", err)
	}
	return &Runner{exe: exe, gitDir: abs}, nil
}

// GitDir returns the absolute git directory this Runner operates on.
func (r *Runner) GitDir() string {
	return r.gitDir
}

// run invokes "git <args...>" against r.gitDir and returns its combined
// stdout. A non-zero exit is returned as an error carrying stderr; if
// ctx is cancelled or its deadline expires, the subprocess is sent
// SIGTERM before run returns.
func (r *Runner) run(ctx context.Context, args ...string) ([]byte, error) {
	argv := append([]string{"--git-dir=" + r.gitDir}, args...)
	cmd := exec.Command(r.exe, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("localgit: git %s: %w", strings.Join(args, " "), err)
	}

	waited := make(chan struct{})
	killDone := make(chan struct{})
	go func() {
		defer close(killDone)
		select {
		case <-ctx.Done():
			cmd.Process.Signal(unix.SIGTERM)
		case <-waited:
		}
	}()
	err := cmd.Wait()
	close(waited)
	<-killDone

	if err != nil {
		return stdout.Bytes(), &runError{args: args, stderr: stderr.Bytes(), err: err}
	}
	if stdout.Len() > outputLimit {
		return nil, fmt.Errorf("localgit: git %s: output exceeds %d bytes", strings.Join(args, " "), outputLimit)
	}
	return stdout.Bytes(), nil
}

type runError struct {
	args   []string
	stderr []byte
	err    error
}

func (e *runError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.err)
	if len(e.stderr) > 0 {
		msg += ": " + strings.TrimSpace(string(e.stderr))
	}
	return msg
}

func (e *runError) Unwrap() error {
	return e.err
}

// ExitCode reports the subprocess's exit code, or -1 if it could not be
// determined.
func (e *runError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
