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
	"context"
	"strings"
	"testing"
)

func TestRunReturnsStdout(t *testing.T) {
	r := newTestRepo(t)
	out, err := r.run(context.Background(), "rev-parse", "--git-dir")
	if err != nil {
		t.Fatalf("run(rev-parse --git-dir): %v", err)
	}
	if !strings.Contains(string(out), r.gitDir) && strings.TrimSpace(string(out)) != "." {
		t.Errorf("run(rev-parse --git-dir) = %q; want it to reference %q", out, r.gitDir)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.run(context.Background(), "cat-file", "-t", "0000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("run(cat-file -t <missing>) = <nil>; want error")
	}
}
