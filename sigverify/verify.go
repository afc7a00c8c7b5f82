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

// Package sigverify checks the detached PGP signature embedded in a Git tag
// object against a configured keyring, using an external verifier binary
// (e.g. gpgv) as the sole source of truth.
package sigverify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/QubesOS/git-remote-qrexec/object"
)

var signatureMarker = []byte("-----BEGIN PGP SIGNATURE-----")

// Options configures a Verifier.
type Options struct {
	// BinPath is the path to the verifier binary (e.g. gpgv). Required.
	BinPath string
	// Keyrings lists the --keyring=<path> arguments to pass, in order.
	Keyrings []string
	// Logger receives the verifier's standard error for diagnostics. Nil
	// selects zap.NewNop().
	Logger *zap.Logger
}

// Verifier invokes an external verifier binary to check detached PGP
// signatures.
type Verifier struct {
	binPath     string
	keyrings    []string
	logger      *zap.Logger
	supportsFDs bool
}

// NewVerifier constructs a Verifier, probing the binary's --help output for
// --enable-special-filenames support to decide between the FD and FIFO
// transport variants.
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.BinPath == "" {
		return nil, fmt.Errorf("sigverify: BinPath is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out, _ := exec.Command(opts.BinPath, "--help").Output()
	return &Verifier{
		binPath:     opts.BinPath,
		keyrings:    append([]string(nil), opts.Keyrings...),
		logger:      logger,
		supportsFDs: bytes.Contains(out, []byte("--enable-special-filenames")),
	}, nil
}

// VerifyTag locates the detached signature inside tag's content, splits it
// from the signed payload, and invokes the external verifier against both.
// On success, it returns the signed payload (the tag bytes before the
// signature marker).
func (v *Verifier) VerifyTag(ctx context.Context, tag *object.Object) ([]byte, error) {
	if tag.Type != object.TypeTag {
		return nil, fmt.Errorf("sigverify: VerifyTag: object %x is not a tag", tag.ID)
	}
	idx := bytes.Index(tag.Content, signatureMarker)
	if idx == -1 {
		return nil, fmt.Errorf("sigverify: tag %x: no PGP signature marker found", tag.ID)
	}
	payload := tag.Content[:idx]
	signature := tag.Content[idx:]

	if v.supportsFDs {
		return payload, v.verifyFD(ctx, tag.ID.String(), signature, payload)
	}
	return payload, v.verifyFIFO(ctx, tag.ID.String(), signature, payload)
}

func (v *Verifier) args() []string {
	args := make([]string, 0, len(v.keyrings))
	for _, k := range v.keyrings {
		args = append(args, "--keyring="+k)
	}
	return args
}

// verifyFD passes the signature and payload to the child as inherited pipe
// file descriptors, named by descriptor number.
func (v *Verifier) verifyFD(ctx context.Context, label string, signature, payload []byte) error {
	sigR, sigW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}
	defer sigR.Close()
	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		sigW.Close()
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}
	defer payloadR.Close()

	args := v.args()
	args = append(args, "--enable-special-filenames", "--", "-&3", "-&4")
	cmd := exec.CommandContext(ctx, v.binPath, args...)
	cmd.ExtraFiles = []*os.File{sigR, payloadR}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		sigW.Close()
		payloadW.Close()
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}
	sigR.Close()
	payloadR.Close()

	var g errgroup.Group
	g.Go(func() error {
		defer sigW.Close()
		_, err := sigW.Write(signature)
		return err
	})
	g.Go(func() error {
		defer payloadW.Close()
		_, err := payloadW.Write(payload)
		return err
	})
	feedErr := g.Wait()
	waitErr := cmd.Wait()

	if stderr.Len() > 0 {
		v.logger.Debug("verifier stderr", zap.String("tag", label), zap.String("output", stderr.String()))
	}
	if feedErr != nil {
		return fmt.Errorf("sigverify: tag %s: feeding verifier: %w", label, feedErr)
	}
	if waitErr != nil {
		return fmt.Errorf("sigverify: tag %s: signature verification failed: %w", label, waitErr)
	}
	return nil
}

// verifyFIFO creates two named FIFOs in a private temporary directory and
// passes their paths to the child, for verifiers that can't be told to read
// file descriptors directly.
func (v *Verifier) verifyFIFO(ctx context.Context, label string, signature, payload []byte) error {
	dir, err := os.MkdirTemp("", "git-remote-qrexec-sigverify-")
	if err != nil {
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}
	defer os.RemoveAll(dir)

	sigPath := filepath.Join(dir, "sig")
	payloadPath := filepath.Join(dir, "payload")
	if err := unix.Mkfifo(sigPath, 0o600); err != nil {
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}
	if err := unix.Mkfifo(payloadPath, 0o600); err != nil {
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}

	args := v.args()
	args = append(args, "--", sigPath, payloadPath)
	cmd := exec.CommandContext(ctx, v.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sigverify: tag %s: %w", label, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return writeFIFO(sigPath, signature)
	})
	g.Go(func() error {
		return writeFIFO(payloadPath, payload)
	})
	feedDone := make(chan error, 1)
	go func() { feedDone <- g.Wait() }()
	waitErr := cmd.Wait()
	// A child that exits without opening a FIFO would leave its writer
	// blocked in open; holding each FIFO open read-write here releases it.
	for _, p := range []string{sigPath, payloadPath} {
		if f, err := os.OpenFile(p, os.O_RDWR, 0); err == nil {
			defer f.Close()
			go io.Copy(io.Discard, f)
		}
	}
	feedErr := <-feedDone

	if stderr.Len() > 0 {
		v.logger.Debug("verifier stderr", zap.String("tag", label), zap.String("output", stderr.String()))
	}
	if feedErr != nil {
		return fmt.Errorf("sigverify: tag %s: feeding verifier: %w", label, feedErr)
	}
	if waitErr != nil {
		return fmt.Errorf("sigverify: tag %s: signature verification failed: %w", label, waitErr)
	}
	return nil
}

func writeFIFO(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
