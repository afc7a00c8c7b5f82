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
	"bytes"
	"fmt"
	"io"

	"github.com/QubesOS/git-remote-qrexec/githash"
)

/*
Unfortunately, the tag object is the least documented of all the Git objects.

Reference parser: https://github.com/git/git/blob/6da43d937ca96d277556fa92c5a664fb1cbcc8ac/tag.c#L134-L206
*/

// A Tag is the parse of a Git annotated tag object, trimmed to the fields
// the fetch engine needs: which object it targets, and the name it binds.
// Fetch has already cross-checked Name and the target's type against the
// object's own header bag (object.Object.Headers) before ParseTag runs, so
// this deliberately does not parse past the "tag" header line: the
// tagger/message block that follows is never read by anything downstream.
type Tag struct {
	// ObjectID is the hash of the object that the tag refers to.
	ObjectID githash.SHA1
	// ObjectType is the type of the object that the tag refers to.
	ObjectType Type

	// Name is the name of the tag.
	Name string
}

// ParseTag deserializes a tag in the Git object format, through its "tag"
// header line.
func ParseTag(data []byte) (*Tag, error) {
	t := new(Tag)
	var ok bool
	data, ok = consumeString(data, "object ")
	if !ok {
		return nil, fmt.Errorf("parse git tag: object: missing")
	}
	var err error
	data, err = consumeHex(t.ObjectID[:], data)
	if err != nil {
		return nil, fmt.Errorf("parse git tag: object: %w", err)
	}
	data, ok = consumeString(data, "\n")
	if !ok {
		return nil, fmt.Errorf("parse git tag: object: trailing data")
	}

	data, ok = consumeString(data, "type ")
	if !ok {
		return nil, fmt.Errorf("parse git tag: type: missing line")
	}
	typ, data, err := consumeLine(data)
	if err != nil {
		return nil, fmt.Errorf("parse git tag: type: %w", err)
	}
	t.ObjectType = Type(typ)
	if !t.ObjectType.IsValid() {
		return nil, fmt.Errorf("parse git tag: type: %q invalid", t.ObjectType)
	}

	data, ok = consumeString(data, "tag ")
	if !ok {
		return nil, fmt.Errorf("parse git tag: name: missing line")
	}
	t.Name, _, err = consumeLine(data)
	if err != nil {
		return nil, fmt.Errorf("parse git tag: name: %w", err)
	}
	return t, nil
}

func consumeLine(src []byte) (_ string, tail []byte, _ error) {
	eol := bytes.IndexByte(src, '\n')
	if eol == -1 {
		return "", src, io.ErrUnexpectedEOF
	}
	return string(src[:eol]), src[eol+1:], nil
}
