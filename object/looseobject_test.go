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
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/trust"
)

func sumOf(raw []byte) githash.SHA1 {
	return githash.SHA1(sha1.Sum(raw))
}

func TestParseOID(t *testing.T) {
	tests := []struct {
		name    string
		oid     string
		wantErr bool
	}{
		{
			name: "Valid",
			oid:  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		},
		{
			name:    "Uppercase",
			oid:     "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709",
			wantErr: true,
		},
		{
			name:    "MixedCase",
			oid:     "da39a3ee5e6b4b0d3255bfef95601890afd8070F",
			wantErr: true,
		},
		{
			name:    "TooShort",
			oid:     "da39a3",
			wantErr: true,
		},
		{
			name:    "TooLong",
			oid:     "da39a3ee5e6b4b0d3255bfef95601890afd807090",
			wantErr: true,
		},
		{
			name:    "NonHex",
			oid:     "zz39a3ee5e6b4b0d3255bfef95601890afd80709",
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseOID(trust.TaintString(test.oid))
			if test.wantErr {
				if err == nil {
					t.Errorf("ParseOID(%q) = %v, <nil>; want error", test.oid, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOID(%q): %v", test.oid, err)
			}
			if got.String() != test.oid {
				t.Errorf("ParseOID(%q) = %v; want %v", test.oid, got.String(), test.oid)
			}
		})
	}
}

func TestParseVerified(t *testing.T) {
	content := []byte("tree da39a3ee5e6b4b0d3255bfef95601890afd80709\nauthor A <a@example.com> 0 +0000\ncommitter A <a@example.com> 0 +0000\n\nhello\n")
	raw := AppendPrefix(nil, TypeCommit, int64(len(content)))
	raw = append(raw, content...)
	id := sumOf(raw)

	obj, err := ParseVerified(id, trust.TaintBytes(raw))
	if err != nil {
		t.Fatalf("ParseVerified(...) error = %v; want nil", err)
	}
	if obj.Type != TypeCommit {
		t.Errorf("obj.Type = %v; want %v", obj.Type, TypeCommit)
	}
	if obj.Size != int64(len(content)) {
		t.Errorf("obj.Size = %d; want %d", obj.Size, len(content))
	}
	want := map[string]string{
		"tree":      "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		"author":    "A <a@example.com> 0 +0000",
		"committer": "A <a@example.com> 0 +0000",
	}
	if diff := cmp.Diff(want, obj.Headers); diff != "" {
		t.Errorf("obj.Headers (-want +got):\n%s", diff)
	}
}

func TestParseVerifiedHashMismatch(t *testing.T) {
	content := []byte("stuff")
	raw := AppendPrefix(nil, TypeBlob, int64(len(content)))
	raw = append(raw, content...)

	var wrongID githash.SHA1
	wrongID[0] = 0xff
	if _, err := ParseVerified(wrongID, trust.TaintBytes(raw)); err == nil {
		t.Error("ParseVerified with mismatched id returned nil error; want error")
	}
}

func TestParseVerifiedBlobHasNoHeaders(t *testing.T) {
	content := []byte("blob contents")
	raw := AppendPrefix(nil, TypeBlob, int64(len(content)))
	raw = append(raw, content...)
	id := sumOf(raw)

	obj, err := ParseVerified(id, trust.TaintBytes(raw))
	if err != nil {
		t.Fatalf("ParseVerified(...) error = %v; want nil", err)
	}
	if obj.Headers != nil {
		t.Errorf("obj.Headers = %v; want nil for blob", obj.Headers)
	}
	if diff := cmp.Diff(content, obj.Content); diff != "" {
		t.Errorf("obj.Content (-want +got):\n%s", diff)
	}
}

func TestParseVerifiedSizeMismatch(t *testing.T) {
	content := []byte("stuff")
	raw := AppendPrefix(nil, TypeBlob, int64(len(content))+1)
	raw = append(raw, content...)
	id := sumOf(raw)

	if _, err := ParseVerified(id, trust.TaintBytes(raw)); err == nil {
		t.Error("ParseVerified with mismatched size returned nil error; want error")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	obj := &Object{
		ID:      sumOf(AppendPrefix(nil, TypeBlob, 5)),
		Type:    TypeBlob,
		Size:    5,
		Content: []byte("hello"),
	}
	compressed, err := obj.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v; want nil", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zlib.NewReader(...): %v", err)
	}
	defer zr.Close()
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading decompressed object: %v", err)
	}
	want := AppendPrefix(nil, TypeBlob, 5)
	want = append(want, "hello"...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decompressed object (-want +got):\n%s", diff)
	}
}
