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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/QubesOS/git-remote-qrexec/githash"
)

var gitCommitTests = []struct {
	name   string
	data   string
	parsed *Commit
}{
	{
		name: "RootCommit",
		data: "tree 58452ad47a5fd3119fb974f9af1818bc88f56857\n" +
			"author Ross Light <ross@zombiezen.com> 1594510150 -0700\n" +
			"committer Ross Light <ross@zombiezen.com> 1594510150 -0700\n" +
			"\n" +
			"Hello World\n",
		parsed: &Commit{
			Tree: hashLiteral("58452ad47a5fd3119fb974f9af1818bc88f56857"),
		},
	},
	{
		name: "SingleParentCommit",
		data: "tree e69c497a490ecaf78f377810e715f0340aa5a10e\n" +
			"parent aff248747f6a94066967a75e30a5b025816a6aef\n" +
			"author Ross Light <ross@zombiezen.com> 1594511739 -0700\n" +
			"committer Ross Light <ross@zombiezen.com> 1594511739 -0700\n" +
			"\n" +
			"Add zv root command\n",
		parsed: &Commit{
			Tree: hashLiteral("e69c497a490ecaf78f377810e715f0340aa5a10e"),
			Parents: []githash.SHA1{
				hashLiteral("aff248747f6a94066967a75e30a5b025816a6aef"),
			},
		},
	},
	{
		name: "MergeCommitWithSignature",
		data: "tree 045bad13340b59b9e50c94051200d9f1a729861e\n" +
			"parent b64df08d9368c7a11a4093cc04cf6a307241cf0c\n" +
			"parent aff248747f6a94066967a75e30a5b025816a6aef\n" +
			"author Ross Light <ross@zombiezen.com> 1595976345 -0700\n" +
			"committer GitHub <noreply@github.com> 1595976345 -0700\n" +
			"gpgsig -----BEGIN PGP SIGNATURE-----\n" +
			" \n" +
			" wsBcBAABCAAQBQJfIKqZCRBK7hj4Ov3rIwAAdHIIACwb+1Dn7I/SdRLPbtCsQ5tX\n" +
			" -----END PGP SIGNATURE-----\n" +
			" \n" +
			"\n" +
			"Create NOTES.md",
		parsed: &Commit{
			Tree: hashLiteral("045bad13340b59b9e50c94051200d9f1a729861e"),
			Parents: []githash.SHA1{
				hashLiteral("b64df08d9368c7a11a4093cc04cf6a307241cf0c"),
				hashLiteral("aff248747f6a94066967a75e30a5b025816a6aef"),
			},
		},
	},
	{
		name: "ExtraHeaderAfterParents",
		data: "tree e06bd601885e16ad3d72c2a8c9b411889b2e478e\n" +
			"author Brian Kernighan <bwk> 80352345 -0500\n" +
			"committer Brian Kernighan <bwk> 80352345 -0500\n" +
			"golang-hg f6182e5abf5eb0c762dddbb18f8854b7e350eaeb\n" +
			"\n" +
			"hello, world\n",
		parsed: &Commit{
			Tree: hashLiteral("e06bd601885e16ad3d72c2a8c9b411889b2e478e"),
		},
	},
}

func TestParseCommit(t *testing.T) {
	for _, test := range gitCommitTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseCommit([]byte(test.data))
			if err != nil {
				t.Error("Error:", err)
			}
			diff := cmp.Diff(test.parsed, got, cmpopts.EquateEmpty())
			if diff != "" {
				t.Errorf("commit (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCommitErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "Empty", data: ""},
		{name: "MissingTree", data: "parent e69de29bb2d1d6434b8b29ae775ad8c2e48c5391\n"},
		{name: "TruncatedTreeHash", data: "tree e69de29\n"},
		{name: "MissingNewlineAfterTree", data: "tree e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{
			name: "TruncatedParentHash",
			data: "tree e69de29bb2d1d6434b8b29ae775ad8c2e48c5391\nparent e69de29\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseCommit([]byte(test.data))
			if err == nil {
				t.Errorf("ParseCommit(%q) = %+v, <nil>; want error", test.data, got)
			}
		})
	}
}
