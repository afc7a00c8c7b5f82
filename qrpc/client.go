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

// Package qrpc invokes Qubes OS qrexec RPC services as subprocesses and
// returns their output, bounded in size and time.
package qrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMaxBytes bounds a single RPC response.
	DefaultMaxBytes = 10 << 20 // 10 MiB
	// DefaultTimeout bounds a single RPC call end to end.
	DefaultTimeout = 5 * time.Second
)

// clientBinaries are probed, in order, for the qrexec client program. Each
// entry builds the argv for calling peer/service with that binary.
var clientBinaries = []struct {
	name string
	argv func(peer, service string) []string
}{
	{
		name: "qrexec-client-vm",
		argv: func(peer, service string) []string {
			return []string{peer, service}
		},
	},
	{
		name: "qrexec-client",
		argv: func(peer, service string) []string {
			return []string{"-d", peer, "DEFAULT:QUBESRPC " + service + " dom0"}
		},
	},
}

// Options configures a Client.
type Options struct {
	// MaxBytes bounds the size of a single RPC response. Zero selects
	// DefaultMaxBytes.
	MaxBytes int64
	// Timeout bounds the duration of a single RPC call. Zero selects
	// DefaultTimeout.
	Timeout time.Duration
	// LookPath resolves a binary name to a path, analogous to
	// exec.LookPath. Nil selects exec.LookPath. Tests substitute a stub.
	LookPath func(name string) (string, error)
}

// Client invokes qrexec RPC services as subprocesses.
type Client struct {
	binPath  string
	argv     func(peer, service string) []string
	maxBytes int64
	timeout  time.Duration
}

// NewClient probes for a qrexec client binary on PATH and constructs a
// Client that invokes it.
func NewClient(opts Options) (*Client, error) {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	for _, candidate := range clientBinaries {
		path, err := lookPath(candidate.name)
		if err != nil {
			continue
		}
		return &Client{
			binPath:  path,
			argv:     candidate.argv,
			maxBytes: maxBytes,
			timeout:  timeout,
		}, nil
	}
	return nil, fmt.Errorf("qrpc: no qrexec client binary found on PATH")
}

// Call invokes service for repoArg on peer, feeding input (if any) to the
// child's standard input and returning its standard output. The full
// service identifier sent to the peer is "<service>+<repoArg>".
func (c *Client) Call(ctx context.Context, peer, service, repoArg string, input []byte) ([]byte, error) {
	fullService := service + "+" + repoArg
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binPath, c.argv(peer, fullService)...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("qrpc: call %s: %w", fullService, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("qrpc: call %s: %w", fullService, err)
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

	out, readErr := readBounded(stdout, c.maxBytes)
	waitErr := cmd.Wait()
	close(waited)
	<-killDone

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("qrpc: call %s: timed out after %s", fullService, c.timeout)
	}
	if readErr != nil {
		return nil, fmt.Errorf("qrpc: call %s: %w", fullService, readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("qrpc: call %s: %w", fullService, waitErr)
	}
	return out, nil
}

// readBounded reads at most max+1 bytes from r, returning an error if the
// stream did not end by then, so an overlong response is detected
// deterministically rather than silently truncated.
func readBounded(r io.Reader, max int64) ([]byte, error) {
	limited := io.LimitReader(r, max+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > max {
		return nil, fmt.Errorf("response exceeds %d bytes", max)
	}
	return buf, nil
}
