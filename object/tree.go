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

import "fmt"

// Mode is a tree entry file mode, as reported by the mode column of
// "git ls-tree". The fetch engine's tree walk only ever needs to tell a
// submodule gitlink apart from everything else, so this is trimmed to the
// mode values and not the rest of a Git tree object's on-disk format.
//
// Mode references:
// https://stackoverflow.com/a/8347325
// https://github.com/git/git/blob/0ef60afdd4416345b16b5c4d8d0558a08d680bc5/compat/vcbuild/include/unistd.h#L71-L96
type Mode uint32

// Git tree entry modes.
const (
	// ModePlain indicates a non-executable file.
	ModePlain Mode = 0o100644
	// ModeExecutable indicates an executable file.
	ModeExecutable Mode = 0o100755
	// ModeDir indicates a subdirectory.
	ModeDir Mode = 0o040000
	// ModeSymlink indicates a symbolic link.
	ModeSymlink Mode = 0o120000
	// ModeGitlink indicates a Git submodule: the fetch engine's tree walk
	// logs and skips these rather than recursing into them (there is no
	// local git plumbing call this tool can make to resolve another
	// repository's object graph).
	ModeGitlink Mode = 0o160000
)

// String formats the mode as zero-padded octal, matching the mode column
// of "git ls-tree".
func (m Mode) String() string {
	return fmt.Sprintf("%06o", uint32(m))
}
