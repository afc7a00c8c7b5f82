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

package localgit

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/object"
	"github.com/QubesOS/git-remote-qrexec/trust"
)

// Oracle answers point-queries against a local git object database: whether
// an object is present, its content, and a tree's entries. The local store
// is trusted: content read back from it is assumed to already have passed
// verification (by this tool or by the enclosing user), so Read does not
// re-run signature checks, only the SHA-1 recomputation inherent to
// object.ParseVerified.
type Oracle struct {
	runner *Runner
}

// NewOracle returns an Oracle backed by r.
func NewOracle(r *Runner) *Oracle {
	return &Oracle{runner: r}
}

// TypeOf reports whether id is present in the local object database and, if
// so, its type. A plumbing failure (for any reason) is treated the same as
// "object not present": the fetch engine's recursive walk asks first and
// falls back to the remote, so a local miss is never itself fatal.
func (o *Oracle) TypeOf(ctx context.Context, id githash.SHA1) (typ object.Type, present bool, err error) {
	out, runErr := o.runner.run(ctx, "cat-file", "-t", id.String())
	if runErr != nil {
		return "", false, nil
	}
	typ = object.Type(strings.TrimSpace(string(out)))
	if !typ.IsValid() {
		return "", false, fmt.Errorf("localgit: cat-file -t %x: unrecognized type %q", id, typ)
	}
	return typ, true, nil
}

// Read returns the parsed object for id, which must already be known to be
// present (see TypeOf).
func (o *Oracle) Read(ctx context.Context, id githash.SHA1) (*object.Object, error) {
	typ, present, err := o.TypeOf(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "localgit: read %x", id)
	}
	if !present {
		return nil, fmt.Errorf("localgit: read %x: object not present locally", id)
	}
	content, err := o.runner.run(ctx, "cat-file", string(typ), id.String())
	if err != nil {
		return nil, errors.Wrapf(err, "localgit: read %x", id)
	}
	raw := object.AppendPrefix(nil, typ, int64(len(content)))
	raw = append(raw, content...)
	obj, err := object.ParseVerified(id, trust.TaintBytes(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "localgit: read %x: local object is corrupt", id)
	}
	return obj, nil
}

// TreeEntry is one entry of a tree object's listing: mode, type, object-id,
// and path, trimmed to what the fetch engine's tree walk needs.
type TreeEntry struct {
	Mode     object.Mode
	Type     object.Type
	ObjectID githash.SHA1
	Path     string
}

// ListTree enumerates the direct entries of the tree object id.
func (o *Oracle) ListTree(ctx context.Context, id githash.SHA1) ([]TreeEntry, error) {
	out, err := o.runner.run(ctx, "ls-tree", "-z", id.String())
	if err != nil {
		return nil, errors.Wrapf(err, "localgit: ls-tree %x", id)
	}
	var entries []TreeEntry
	for _, raw := range bytes.Split(bytes.TrimSuffix(out, []byte{0}), []byte{0}) {
		if len(raw) == 0 {
			continue
		}
		entry, err := parseTreeEntry(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "localgit: ls-tree %x", id)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseTreeEntry parses one "-z"-formatted ls-tree record:
// "<mode> SP <type> SP <objectid> TAB <path>".
func parseTreeEntry(raw []byte) (TreeEntry, error) {
	tab := bytes.IndexByte(raw, '\t')
	if tab == -1 {
		return TreeEntry{}, fmt.Errorf("entry %q: missing tab", raw)
	}
	path := string(raw[tab+1:])
	fields := strings.SplitN(string(raw[:tab]), " ", 3)
	if len(fields) != 3 {
		return TreeEntry{}, fmt.Errorf("entry %q: want 3 space-separated fields, got %d", raw[:tab], len(fields))
	}
	modeVal, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("entry %s: mode: %w", path, err)
	}
	mode := object.Mode(modeVal)
	typ := object.Type(fields[1])
	if !typ.IsValid() {
		return TreeEntry{}, fmt.Errorf("entry %s: unrecognized type %q", path, typ)
	}
	id, err := githash.ParseSHA1(fields[2])
	if err != nil {
		return TreeEntry{}, fmt.Errorf("entry %s: object id: %w", path, err)
	}
	return TreeEntry{Mode: mode, Type: typ, ObjectID: id, Path: path}, nil
}
