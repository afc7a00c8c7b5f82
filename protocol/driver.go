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

// Package protocol drives the line-oriented git-remote-helper dialect (see
// gitremote-helpers(7)) over the parent git process's standard input and
// output. It is the only package in this tool that touches os.Stdin and
// os.Stdout directly; every diagnostic goes to stderr via internal/qlog,
// since anything written to stdout outside this protocol corrupts the
// session.
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/QubesOS/git-remote-qrexec/fetch"
	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/internal/qlog"
	"github.com/QubesOS/git-remote-qrexec/object"
)

// engine is the fetch.Engine surface the driver needs, narrowed so tests can
// substitute a fake without constructing a real qrpc/sigverify/localgit
// stack.
type engine interface {
	List(ctx context.Context, headOnly bool) ([]fetch.TagListing, error)
	Fetch(ctx context.Context, id githash.SHA1, refname string) (*object.Tag, error)
}

// Driver is a single-threaded state machine that reads commands from r and
// writes responses to w, per gitremote-helpers(7).
type Driver struct {
	engine     engine
	headOnly   bool
	logger     *qlog.Logger
	r          *bufio.Scanner
	w          io.Writer
	followTags bool
}

// NewDriver returns a Driver that fetches through eng, listing only the
// head's tag when headOnly is true (see urlspec.RemoteSpec.ListHeadOnly).
func NewDriver(eng engine, headOnly bool, logger *qlog.Logger, r io.Reader, w io.Writer) *Driver {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Driver{
		engine:   eng,
		headOnly: headOnly,
		logger:   logger,
		r:        scanner,
		w:        w,
	}
}

// Run reads commands until EOF, dispatching each to its handler. A clean
// EOF is a nil return (exit code 0); any other error is fatal for the
// whole session.
func (d *Driver) Run(ctx context.Context) error {
	for d.r.Scan() {
		line := d.r.Text()
		switch {
		case line == "capabilities":
			if err := d.handleCapabilities(); err != nil {
				return err
			}
		case line == "list" || line == "list for-push":
			if err := d.handleList(ctx, line == "list for-push"); err != nil {
				return err
			}
		case line == "fetch" || strings.HasPrefix(line, "fetch "):
			if err := d.handleFetchBatch(ctx, line); err != nil {
				return err
			}
		case strings.HasPrefix(line, "option "):
			if err := d.handleOption(line); err != nil {
				return err
			}
		case line == "":
			// A stray blank line outside a batch: nothing to do.
		default:
			d.logger.Warn("ignoring unrecognized helper protocol command", zap.String("command", line))
		}
	}
	if err := d.r.Err(); err != nil {
		return fmt.Errorf("protocol: reading command: %w", err)
	}
	return nil
}

func (d *Driver) handleCapabilities() error {
	if _, err := fmt.Fprint(d.w, "fetch\noption\n\n"); err != nil {
		return fmt.Errorf("protocol: capabilities: %w", err)
	}
	return nil
}

// handleList answers "list" and "list for-push". This tool is fetch-only
// (pushing across the qrexec boundary is not supported), so "list
// for-push" always answers with an empty list; "list" asks the Fetch
// Engine for the remote's signed
// tags and emits two lines per tag, per gitremote-helpers(7)'s convention
// for annotated tags (the tag object itself, then its peeled commit).
func (d *Driver) handleList(ctx context.Context, forPush bool) error {
	if forPush {
		_, err := fmt.Fprint(d.w, "\n")
		if err != nil {
			return fmt.Errorf("protocol: list for-push: %w", err)
		}
		return nil
	}
	listings, err := d.engine.List(ctx, d.headOnly)
	if err != nil {
		return fmt.Errorf("protocol: list: %w", err)
	}
	for _, l := range listings {
		ref := githash.TagRef(l.Name)
		if _, err := fmt.Fprintf(d.w, "%s %s\n", l.TagID, ref); err != nil {
			return fmt.Errorf("protocol: list: %w", err)
		}
		if _, err := fmt.Fprintf(d.w, "%s %s^{}\n", l.CommitID, ref); err != nil {
			return fmt.Errorf("protocol: list: %w", err)
		}
	}
	if _, err := fmt.Fprint(d.w, "\n"); err != nil {
		return fmt.Errorf("protocol: list: %w", err)
	}
	return nil
}

// handleFetchBatch consumes "fetch <sha1> <refname>" lines, starting with
// first (already read by Run), until a blank line, then performs each
// fetch in order and emits one blank line to close the batch.
func (d *Driver) handleFetchBatch(ctx context.Context, first string) error {
	lines := []string{first}
	for d.r.Scan() {
		line := d.r.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := d.r.Err(); err != nil {
		return fmt.Errorf("protocol: fetch: %w", err)
	}
	for _, line := range lines {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "fetch" {
			return fmt.Errorf("protocol: fetch: malformed command %q", line)
		}
		id, err := githash.ParseSHA1(fields[1])
		if err != nil {
			return fmt.Errorf("protocol: fetch: %q: %w", line, err)
		}
		if _, err := d.engine.Fetch(ctx, id, fields[2]); err != nil {
			return fmt.Errorf("protocol: fetch: %q: %w", line, err)
		}
	}
	if _, err := fmt.Fprint(d.w, "\n"); err != nil {
		return fmt.Errorf("protocol: fetch: %w", err)
	}
	return nil
}

// handleOption answers "option <name> <value>". Only followtags and
// verbosity are recognized; anything else is "unsupported".
func (d *Driver) handleOption(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("protocol: option: malformed command %q", line)
	}
	name, value := fields[1], fields[2]
	switch name {
	case "followtags":
		b, ok := parseOptionBool(value)
		if !ok {
			return d.respondUnsupported()
		}
		// Recorded but inert: every fetch already pulls the full closure
		// of its tag, so there is nothing extra for followtags to add.
		d.followTags = b
		return d.respondOK()
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			return d.respondUnsupported()
		}
		d.logger.SetVerbosity(n)
		return d.respondOK()
	default:
		return d.respondUnsupported()
	}
}

func (d *Driver) respondOK() error {
	if _, err := fmt.Fprint(d.w, "ok\n"); err != nil {
		return fmt.Errorf("protocol: option: %w", err)
	}
	return nil
}

func (d *Driver) respondUnsupported() error {
	if _, err := fmt.Fprint(d.w, "unsupported\n"); err != nil {
		return fmt.Errorf("protocol: option: %w", err)
	}
	return nil
}

func parseOptionBool(v string) (_ bool, ok bool) {
	switch v {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
