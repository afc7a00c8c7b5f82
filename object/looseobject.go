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

package object

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"fmt"

	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/trust"
)

// Object is a parsed Git loose object: a type/size prefix, its raw content,
// and (for commit and tag objects) the header bag parsed out of that
// content.
type Object struct {
	ID      githash.SHA1
	Type    Type
	Size    int64
	Content []byte

	// Headers holds the header bag for commit and tag objects: each line up
	// to the first blank line, split at the first space. A repeated key
	// (such as a merge commit's multiple "parent" lines) keeps only its last
	// value here; callers that need every occurrence parse Content
	// directly (see ParseCommit).
	Headers map[string]string
}

// ParseOID validates that a candidate object-id string is exactly 40
// lowercase hex characters before decoding it. This is stricter than
// githash.SHA1's own UnmarshalText, which calls encoding/hex and therefore
// accepts uppercase: an object-id carrying uppercase hex did not come from
// this tool's own output and is treated as malformed input rather than
// silently normalized.
func ParseOID(raw trust.Untrusted[string]) (githash.SHA1, error) {
	s, err := raw.Verify(validHexOID)
	if err != nil {
		return githash.SHA1{}, err
	}
	var id githash.SHA1
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return githash.SHA1{}, fmt.Errorf("parse object id %q: %w", s, err)
	}
	return id, nil
}

func validHexOID(s string) error {
	if len(s) != 40 {
		return fmt.Errorf("object id %q: want 40 hex characters, got %d", s, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("object id %q: byte %d (%q) is not lowercase hex", s, i, c)
		}
	}
	return nil
}

// ParseVerified checks raw against id's SHA-1 content hash and, on success,
// parses the Git loose-object prefix and (for commit and tag types) header
// bag out of it. raw is never inspected until the hash has been confirmed to
// match id.
func ParseVerified(id githash.SHA1, raw trust.Untrusted[[]byte]) (*Object, error) {
	b, err := raw.Verify(func(b []byte) error {
		sum := sha1.Sum(b)
		if !bytes.Equal(sum[:], id[:]) {
			return fmt.Errorf("parse object %x: content hashes to %x", id, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseLooseObject(id, b)
}

func parseLooseObject(id githash.SHA1, raw []byte) (*Object, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul == -1 {
		return nil, fmt.Errorf("parse object %x: no NUL terminating prefix", id)
	}
	var prefix Prefix
	if err := prefix.UnmarshalBinary(raw[:nul+1]); err != nil {
		return nil, fmt.Errorf("parse object %x: %w", id, err)
	}
	content := raw[nul+1:]
	if int64(len(content)) != prefix.Size {
		return nil, fmt.Errorf("parse object %x: content is %d bytes, prefix declared %d", id, len(content), prefix.Size)
	}
	obj := &Object{
		ID:      id,
		Type:    prefix.Type,
		Size:    prefix.Size,
		Content: content,
	}
	if prefix.Type == TypeTag || prefix.Type == TypeCommit {
		headers, err := parseHeaderBag(content)
		if err != nil {
			return nil, fmt.Errorf("parse object %x: %w", id, err)
		}
		obj.Headers = headers
	}
	return obj, nil
}

// parseHeaderBag splits content's header block (everything up to the first
// blank line, after stripping trailing newlines) into a key/value map. A
// repeated key keeps its last occurrence, matching Git's own tolerance for
// (for example) repeated "parent" lines.
func parseHeaderBag(content []byte) (map[string]string, error) {
	trimmed := bytes.TrimRight(content, "\n")
	headerPart := trimmed
	if sep := bytes.Index(trimmed, []byte("\n\n")); sep != -1 {
		headerPart = trimmed[:sep]
	}
	headers := make(map[string]string)
	if len(headerPart) == 0 {
		return headers, nil
	}
	for _, line := range bytes.Split(headerPart, []byte("\n")) {
		sp := bytes.IndexByte(line, ' ')
		if sp == -1 {
			return nil, fmt.Errorf("header line %q: no space separating key and value", line)
		}
		headers[string(line[:sp])] = string(line[sp+1:])
	}
	return headers, nil
}

// Serialize deflate-compresses the object's prefix and content for storage
// as a Git loose object.
func (o *Object) Serialize() ([]byte, error) {
	prefixBytes, err := Prefix{Type: o.Type, Size: o.Size}.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize object %x: %w", o.ID, err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(prefixBytes); err != nil {
		return nil, fmt.Errorf("serialize object %x: %w", o.ID, err)
	}
	if _, err := zw.Write(o.Content); err != nil {
		return nil, fmt.Errorf("serialize object %x: %w", o.ID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("serialize object %x: %w", o.ID, err)
	}
	return buf.Bytes(), nil
}
