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
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/QubesOS/git-remote-qrexec/githash"
	"github.com/QubesOS/git-remote-qrexec/object"
)

// Store writes obj as a loose object file under gitDir/objects, creating
// the two-hex-digit subdirectory if needed. It writes to a temporary file
// in the destination directory first and renames into place, so a
// concurrently reading process never observes a partially written object.
// Unlike packfile.ObjectDir (which stores objects uncompressed so they stay
// seekable), loose objects are always zlib-compressed.
type Store struct {
	objectsDir string
}

// NewStore returns a Store that writes loose objects under
// filepath.Join(gitDir, "objects").
func NewStore(gitDir string) *Store {
	return &Store{objectsDir: filepath.Join(gitDir, "objects")}
}

// Store persists obj, whose id must already have been verified against its
// content, as a loose object. Storing an object that already exists is a
// no-op success (objects are content-addressed, so any existing file with
// the same path necessarily has the same content).
func (s *Store) Store(id githash.SHA1, obj *object.Object) error {
	dst := s.path(id)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}

	compressed, err := obj.Serialize()
	if err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, "obj-")
	if err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(compressed); err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("localgit: store %x: %w", id, err)
	}
	succeeded = true
	return nil
}

func (s *Store) path(id githash.SHA1) string {
	return filepath.Join(s.objectsDir, hex.EncodeToString(id[:1]), hex.EncodeToString(id[1:]))
}
