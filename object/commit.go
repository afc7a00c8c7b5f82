// Copyright 2024 The git-remote-qrexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/QubesOS/git-remote-qrexec/githash"
)

// A Commit is the parse of a Git commit object, trimmed to the fields the
// fetch engine's graph walk needs to reach everything a tag implies: its
// tree and its parents. Nothing downstream reads the author/committer,
// message, gpgsig, or any other header a commit may carry, so ParseCommit
// does not parse past the parent lines.
type Commit struct {
	// Tree is the hash of the commit's tree object.
	Tree githash.SHA1
	// Parents are the hashes of the commit's parents.
	Parents []githash.SHA1
}

// ParseCommit extracts a commit's tree and parent hashes from its Git
// object-format content.
//
// See parse_commit_buffer in Git's commit.c for the full accepted grammar.
// It's pretty loose, but the first two keys must be in this order: tree,
// then zero or more parent lines; everything after that is ignored here.
func ParseCommit(data []byte) (*Commit, error) {
	c := new(Commit)
	data, ok := consumeString(data, "tree ")
	if !ok {
		return nil, fmt.Errorf("parse git commit: tree: missing")
	}
	var err error
	data, err = consumeHex(c.Tree[:], data)
	if err != nil {
		return nil, fmt.Errorf("parse git commit: tree: %w", err)
	}
	data, ok = consumeString(data, "\n")
	if !ok {
		return nil, fmt.Errorf("parse git commit: tree: trailing data")
	}
	for i := 0; ; i++ {
		data, ok = consumeString(data, "parent ")
		if !ok {
			break
		}
		var p githash.SHA1
		data, err = consumeHex(p[:], data)
		if err != nil {
			return nil, fmt.Errorf("parse git commit: parent %d: %w", i, err)
		}
		c.Parents = append(c.Parents, p)
		data, ok = consumeString(data, "\n")
		if !ok {
			return nil, fmt.Errorf("parse git commit: parent %d: trailing data", i)
		}
	}
	return c, nil
}

func consumeString(src []byte, s string) (_ []byte, ok bool) {
	if len(src) < len(s) {
		return src, false
	}
	for i := 0; i < len(s); i++ {
		if src[i] != s[i] {
			return src, false
		}
	}
	return src[len(s):], true
}

func consumeHex(dst []byte, src []byte) (tail []byte, _ error) {
	n := hex.EncodedLen(len(dst))
	if len(src) < n {
		return src, io.ErrUnexpectedEOF
	}
	if _, err := hex.Decode(dst, src[:n]); err != nil {
		return src, err
	}
	return src[n:], nil
}
