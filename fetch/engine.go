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

// Package fetch implements the content-addressed, ask-local-first recursive
// fetch of a signed tag and everything it reaches.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/internal/qlog"
	"github.com/QubesOS/git-remote-qrexec/localgit"
	"github.com/QubesOS/git-remote-qrexec/object"
	"github.com/QubesOS/git-remote-qrexec/trust"
)

// remoteCaller is the qrpc.Client surface the engine needs: one RPC call
// against the configured remote. A smaller interface than *qrpc.Client lets
// tests substitute a fake remote without spawning qrexec-client-vm.
type remoteCaller interface {
	Call(ctx context.Context, peer, service, repoArg string, input []byte) ([]byte, error)
}

// tagVerifier is the sigverify.Verifier surface the engine needs.
type tagVerifier interface {
	VerifyTag(ctx context.Context, tag *object.Object) ([]byte, error)
}

// TagListing is one entry of a remote's signed-tag listing.
type TagListing struct {
	CommitID githash.SHA1
	TagID    githash.SHA1
	Name     string
}

// Progress receives one tick for every object the recursive walk resolves
// (whether served from the local oracle or freshly fetched from the
// remote). *progressbar.ProgressBar satisfies this with its own Add method;
// tests and non-interactive runs leave it nil.
type Progress interface {
	Add(int) error
}

// Engine drives List and Fetch against one remote, using a local oracle and
// store to avoid re-fetching what is already present.
type Engine struct {
	client   remoteCaller
	verifier tagVerifier
	oracle   *localgit.Oracle
	store    *localgit.Store
	logger   *qlog.Logger
	peer     string
	repoArg  string

	// progress, if set, is ticked once per object the recursive walk
	// resolves. Left nil, ticks are simply skipped.
	progress Progress

	// visited is owned by the Engine for the lifetime of a single Fetch
	// call; it is reset at the start of each Fetch.
	visited map[githash.SHA1]bool
}

// NewEngine returns an Engine for one remote, identified by peer and
// repoArg (see the urlspec package).
func NewEngine(client remoteCaller, verifier tagVerifier, oracle *localgit.Oracle, store *localgit.Store, logger *qlog.Logger, peer, repoArg string) *Engine {
	return &Engine{
		client:   client,
		verifier: verifier,
		oracle:   oracle,
		store:    store,
		logger:   logger,
		peer:     peer,
		repoArg:  repoArg,
	}
}

// SetProgress installs a progress reporter that is ticked once per object
// resolved during a recursive fetch. Intended for a
// *progressbar.ProgressBar on stderr, shown only when stderr is a terminal
// (see cmd/git-remote-qrexec); nil (the default) disables reporting.
func (e *Engine) SetProgress(p Progress) {
	e.progress = p
}

// List retrieves the remote's signed-tag listing. If headOnly is true, it
// asks for tags pointing at the current head only; an empty response in
// that mode is not an error, just a warning (the head simply has no signed
// tag). Any malformed line aborts the whole listing: partial lists are
// never returned.
func (e *Engine) List(ctx context.Context, headOnly bool) ([]TagListing, error) {
	service := "git.List"
	if headOnly {
		service = "git.ListHeadOnly"
	}
	out, err := e.client.Call(ctx, e.peer, service, e.repoArg, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: list: %w", err)
	}
	trimmed := bytes.TrimRight(out, "\n")
	if len(trimmed) == 0 {
		if headOnly {
			e.logger.Warn("remote head has no signed tag pointing at it")
		}
		return nil, nil
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	listings := make([]TagListing, len(lines))
	for i, line := range lines {
		listing, err := parseTagListing(line)
		if err != nil {
			return nil, fmt.Errorf("fetch: list: line %d: %w", i+1, err)
		}
		listings[i] = listing
	}
	return listings, nil
}

func parseTagListing(line []byte) (TagListing, error) {
	fields := strings.SplitN(string(line), " ", 3)
	if len(fields) != 3 {
		return TagListing{}, fmt.Errorf("line %q: want 3 space-separated fields, got %d", line, len(fields))
	}
	commitID, err := object.ParseOID(trust.TaintString(fields[0]))
	if err != nil {
		return TagListing{}, fmt.Errorf("line %q: commit id: %w", line, err)
	}
	tagID, err := object.ParseOID(trust.TaintString(fields[1]))
	if err != nil {
		return TagListing{}, fmt.Errorf("line %q: tag id: %w", line, err)
	}
	name := fields[2]
	if !validTagName(name) {
		return TagListing{}, fmt.Errorf("line %q: tag name %q: disallowed byte", line, name)
	}
	return TagListing{CommitID: commitID, TagID: tagID, Name: name}, nil
}

// validTagName reports whether every byte of s is in the fixed allowed set
// for remote-supplied tag names: ASCII letters, digits, '.', '-', and '_'.
// Anything else (slashes, whitespace, control bytes, non-ASCII) fails.
func validTagName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z':
		case 'a' <= c && c <= 'z':
		case '0' <= c && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// Fetch retrieves the signed tag id (expected to be bound to refname),
// verifies its signature and header bindings, persists it, and recursively
// fetches everything it reaches.
func (e *Engine) Fetch(ctx context.Context, id githash.SHA1, refname string) (*object.Tag, error) {
	ref := githash.Ref(refname)
	if !ref.IsTag() {
		return nil, fmt.Errorf("fetch %x: refname %q does not begin with \"refs/tags/\"", id, refname)
	}
	name := ref.Tag()

	obj, err := e.fetchRemote(ctx, id, object.TypeTag)
	if err != nil {
		return nil, fmt.Errorf("fetch %x %s: %w", id, refname, err)
	}
	if _, err := e.verifier.VerifyTag(ctx, obj); err != nil {
		return nil, fmt.Errorf("fetch %x %s: signature: %w", id, refname, err)
	}
	tagName, ok := obj.Headers["tag"]
	if !ok || tagName != name {
		return nil, fmt.Errorf("fetch %x %s: tag header %q does not match refname", id, refname, tagName)
	}
	if targetType := obj.Headers["type"]; targetType != string(object.TypeCommit) {
		return nil, fmt.Errorf("fetch %x %s: tag targets %q, want %q", id, refname, targetType, object.TypeCommit)
	}
	tag, err := object.ParseTag(obj.Content)
	if err != nil {
		return nil, fmt.Errorf("fetch %x %s: %w", id, refname, err)
	}

	if err := e.store.Store(id, obj); err != nil {
		return nil, fmt.Errorf("fetch %x %s: %w", id, refname, err)
	}

	e.visited = make(map[githash.SHA1]bool)
	if err := e.fetchRecursive(ctx, tag.ObjectID, object.TypeCommit); err != nil {
		return nil, fmt.Errorf("fetch %x %s: %w", id, refname, err)
	}
	return tag, nil
}

// fetchRemote retrieves id from the remote, SHA-verifying it on arrival,
// and checks it against hint if hint is non-empty.
func (e *Engine) fetchRemote(ctx context.Context, id githash.SHA1, hint object.Type) (*object.Object, error) {
	out, err := e.client.Call(ctx, e.peer, "git.Fetch", e.repoArg, []byte(id.String()))
	if err != nil {
		return nil, fmt.Errorf("remote fetch %x: %w", id, err)
	}
	obj, err := object.ParseVerified(id, trust.TaintBytes(out))
	if err != nil {
		return nil, fmt.Errorf("remote fetch %x: %w", id, err)
	}
	if hint != "" && obj.Type != hint {
		return nil, fmt.Errorf("remote fetch %x: got type %q, want %q", id, obj.Type, hint)
	}
	return obj, nil
}

// workItem is one pending entry of the recursive fetch's explicit queue.
// pre, when non-nil, is an object already retrieved from the local oracle
// by a prior concurrent tree-entry fan-out, sparing resolve a redundant
// lookup.
type workItem struct {
	id   githash.SHA1
	hint object.Type
	pre  *object.Object
}

// fetchRecursive walks everything reachable from root (with expected type
// hint) using an explicit work queue rather than Go call-stack recursion,
// so that long commit histories or deep trees cannot overflow the stack.
// Failures on individual items (for example, one parent of a merge commit)
// do not abort the walk early: every reachable item is still attempted, and
// any failures are reported together.
func (e *Engine) fetchRecursive(ctx context.Context, root githash.SHA1, hint object.Type) error {
	queue := []workItem{{id: root, hint: hint}}
	var errs *multierror.Error
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if e.visited[item.id] {
			continue
		}

		obj, err := e.resolve(ctx, item)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%x: %w", item.id, err))
			continue
		}
		e.visited[item.id] = true
		if e.progress != nil {
			e.progress.Add(1)
		}

		switch obj.Type {
		case object.TypeCommit:
			commit, err := object.ParseCommit(obj.Content)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("commit %x: %w", item.id, err))
				continue
			}
			queue = append(queue, workItem{id: commit.Tree, hint: object.TypeTree})
			for _, parent := range commit.Parents {
				queue = append(queue, workItem{id: parent, hint: object.TypeCommit})
			}
		case object.TypeTree:
			entries, err := e.oracle.ListTree(ctx, item.id)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("tree %x: %w", item.id, err))
				continue
			}
			children, err := e.treeChildren(ctx, item.id, entries)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			queue = append(queue, children...)
		case object.TypeBlob, object.TypeTag:
			// Leaf: nothing further to fetch.
		default:
			errs = multierror.Append(errs, fmt.Errorf("%x: unrecognized object type %q", item.id, obj.Type))
		}
	}
	return errs.ErrorOrNil()
}

// resolve returns the object for item, either from a fan-out prefetch, the
// local oracle, or (if absent locally) the remote, SHA-verified and
// persisted on arrival. Remote calls here are never concurrent with one
// another: the work-queue loop issues at most one at a time.
func (e *Engine) resolve(ctx context.Context, item workItem) (*object.Object, error) {
	if item.pre != nil {
		return item.pre, nil
	}
	_, present, err := e.oracle.TypeOf(ctx, item.id)
	if err != nil {
		return nil, err
	}
	if present {
		return e.oracle.Read(ctx, item.id)
	}
	obj, err := e.fetchRemote(ctx, item.id, item.hint)
	if err != nil {
		return nil, err
	}
	if err := e.store.Store(item.id, obj); err != nil {
		return nil, fmt.Errorf("store %x: %w", item.id, err)
	}
	e.logger.Debug("fetched object from remote", zap.String("object", item.id.Short()), zap.String("type", string(obj.Type)))
	return obj, nil
}

// treeChildren enumerates the work items for one tree's direct entries.
// Gitlink (submodule) entries are logged and skipped, never recursed into.
// The local-presence lookup for each blob/tree entry is fanned out
// concurrently with errgroup: these are all local git plumbing calls, not
// remote RPCs, so the "one remote call in flight at a time" rule (enforced
// serially by the queue loop in fetchRecursive) does not apply to them.
func (e *Engine) treeChildren(ctx context.Context, treeID githash.SHA1, entries []localgit.TreeEntry) ([]workItem, error) {
	pre := make([]*object.Object, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		switch {
		case entry.Mode == object.ModeGitlink:
			if entry.Type != object.TypeCommit {
				return nil, fmt.Errorf("tree %x: entry %q: gitlink mode but type %q", treeID, entry.Path, entry.Type)
			}
			e.logger.Warn("skipping submodule gitlink entry",
				zap.String("path", entry.Path),
				zap.String("object", entry.ObjectID.Short()),
				zap.Stringer("mode", entry.Mode))
			continue
		case entry.Type == object.TypeBlob, entry.Type == object.TypeTree:
			i, entry := i, entry
			g.Go(func() error {
				typ, present, err := e.oracle.TypeOf(gctx, entry.ObjectID)
				if err != nil {
					return fmt.Errorf("%s: %w", entry.Path, err)
				}
				if !present {
					return nil
				}
				if typ != entry.Type {
					return fmt.Errorf("%s: local object is type %q, tree entry says %q", entry.Path, typ, entry.Type)
				}
				obj, err := e.oracle.Read(gctx, entry.ObjectID)
				if err != nil {
					return fmt.Errorf("%s: %w", entry.Path, err)
				}
				pre[i] = obj
				return nil
			})
		default:
			return nil, fmt.Errorf("tree %x: entry %q: unrecognized type %q", treeID, entry.Path, entry.Type)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tree %x: %w", treeID, err)
	}

	items := make([]workItem, 0, len(entries))
	for i, entry := range entries {
		if entry.Mode == object.ModeGitlink {
			continue
		}
		items = append(items, workItem{id: entry.ObjectID, hint: entry.Type, pre: pre[i]})
	}
	return items, nil
}
