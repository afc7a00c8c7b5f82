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

package protocol

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/QubesOS/git-remote-qrexec/fetch"
	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/internal/qlog"
	"github.com/QubesOS/git-remote-qrexec/object"
)

type fakeEngine struct {
	listings  []fetch.TagListing
	listErr   error
	fetched   []string
	fetchErrs map[string]error
}

func (f *fakeEngine) List(ctx context.Context, headOnly bool) ([]fetch.TagListing, error) {
	return f.listings, f.listErr
}

func (f *fakeEngine) Fetch(ctx context.Context, id githash.SHA1, refname string) (*object.Tag, error) {
	key := id.String() + " " + refname
	f.fetched = append(f.fetched, key)
	if err, ok := f.fetchErrs[key]; ok {
		return nil, err
	}
	return &object.Tag{}, nil
}

func sha1OfString(s string) githash.SHA1 {
	var id githash.SHA1
	copy(id[:], []byte(strings.Repeat(s, 20))[:20])
	return id
}

func TestDriverCapabilities(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("capabilities\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "fetch\noption\n\n"
	if out.String() != want {
		t.Errorf("capabilities output = %q, want %q", out.String(), want)
	}
}

func TestDriverList(t *testing.T) {
	tagID := sha1OfString("a")
	commitID := sha1OfString("b")
	eng := &fakeEngine{listings: []fetch.TagListing{
		{CommitID: commitID, TagID: tagID, Name: "v1"},
	}}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("list\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := fmt.Sprintf("%s refs/tags/v1\n%s refs/tags/v1^{}\n\n", tagID, commitID)
	if out.String() != want {
		t.Errorf("list output = %q, want %q", out.String(), want)
	}
}

func TestDriverListForPush(t *testing.T) {
	eng := &fakeEngine{listings: []fetch.TagListing{{Name: "v1"}}}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("list for-push\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "\n" {
		t.Errorf("list for-push output = %q, want blank line only (fetch-only helper)", out.String())
	}
}

func TestDriverFetchBatch(t *testing.T) {
	id1 := sha1OfString("a")
	id2 := sha1OfString("b")
	eng := &fakeEngine{fetchErrs: map[string]error{}}
	input := fmt.Sprintf("fetch %s refs/tags/v1\nfetch %s refs/tags/v2\n\n", id1, id2)
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader(input), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "\n" {
		t.Errorf("fetch batch output = %q, want single blank line", out.String())
	}
	want := []string{id1.String() + " refs/tags/v1", id2.String() + " refs/tags/v2"}
	if len(eng.fetched) != len(want) {
		t.Fatalf("fetched = %v, want %v", eng.fetched, want)
	}
	for i := range want {
		if eng.fetched[i] != want[i] {
			t.Errorf("fetched[%d] = %q, want %q", i, eng.fetched[i], want[i])
		}
	}
}

func TestDriverFetchFailureAbortsSession(t *testing.T) {
	id1 := sha1OfString("a")
	eng := &fakeEngine{fetchErrs: map[string]error{
		id1.String() + " refs/tags/v1": fmt.Errorf("signature verification failed"),
	}}
	input := fmt.Sprintf("fetch %s refs/tags/v1\n\n", id1)
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader(input), &out)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run: want error, got nil")
	}
}

func TestDriverOptionFollowtags(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("option followtags true\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "ok\n" {
		t.Errorf("option followtags output = %q, want %q", out.String(), "ok\n")
	}
	if !d.followTags {
		t.Error("followTags not recorded")
	}
}

func TestDriverOptionVerbosity(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("option verbosity 2\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "ok\n" {
		t.Errorf("option verbosity output = %q, want %q", out.String(), "ok\n")
	}
}

func TestDriverOptionUnsupported(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("option bogus value\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "unsupported\n" {
		t.Errorf("option bogus output = %q, want %q", out.String(), "unsupported\n")
	}
}

func TestDriverUnknownCommandIgnored(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader("bogus-command\ncapabilities\n"), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "fetch\noption\n\n" {
		t.Errorf("output after unknown command = %q, want capabilities response only", out.String())
	}
}

func TestDriverEOFEndsCleanly(t *testing.T) {
	eng := &fakeEngine{}
	var out strings.Builder
	d := NewDriver(eng, true, qlog.New(), strings.NewReader(""), &out)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run on empty input: %v", err)
	}
}
