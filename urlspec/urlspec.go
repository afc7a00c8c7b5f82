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

// Package urlspec parses the qrexec remote-helper URL syntax,
// qrexec://<peer>/<repo-arg>[?<query>].
package urlspec

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/QubesOS/git-remote-qrexec/internal/giturl"
)

// RemoteSpec is a parsed qrexec remote URL.
type RemoteSpec struct {
	// Peer is the qrexec domain name of the remote.
	Peer string
	// RepoArg is the repository argument passed to the remote's RPC
	// services.
	RepoArg string
	// Keyrings is the list of keyring paths given by repeated "keyring"
	// query parameters, in the order they appeared.
	Keyrings []string
	// ListHeadOnly is the value of the "list_head_only" query parameter,
	// defaulting to true.
	ListHeadOnly bool
}

// Parse parses a qrexec remote URL.
func Parse(rawurl string) (*RemoteSpec, error) {
	u, err := giturl.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("parse qrexec url %q: %w", rawurl, err)
	}
	if u.Scheme != "qrexec" {
		return nil, fmt.Errorf("parse qrexec url %q: scheme is %q, want \"qrexec\"", rawurl, u.Scheme)
	}
	if u.Fragment != "" {
		return nil, fmt.Errorf("parse qrexec url %q: fragments are not allowed", rawurl)
	}
	peer := u.Host
	if peer == "" {
		return nil, fmt.Errorf("parse qrexec url %q: missing peer", rawurl)
	}
	repoArg := strings.TrimPrefix(u.Path, "/")
	if repoArg == "" {
		return nil, fmt.Errorf("parse qrexec url %q: missing repository argument", rawurl)
	}
	if strings.Contains(repoArg, "/") {
		return nil, fmt.Errorf("parse qrexec url %q: repository argument %q contains a slash", rawurl, repoArg)
	}

	spec := &RemoteSpec{
		Peer:         peer,
		RepoArg:      repoArg,
		ListHeadOnly: true,
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("parse qrexec url %q: query: %w", rawurl, err)
	}
	for key := range query {
		if key != "keyring" && key != "list_head_only" {
			return nil, fmt.Errorf("parse qrexec url %q: unrecognized query parameter %q", rawurl, key)
		}
	}
	// url.Values preserves the source order of repeated values for a single
	// key, so keyrings are handed to the verifier in the order given.
	spec.Keyrings = query["keyring"]
	if values := query["list_head_only"]; len(values) > 0 {
		if len(values) != 1 {
			return nil, fmt.Errorf("parse qrexec url %q: list_head_only given %d times, want at most 1", rawurl, len(values))
		}
		b, ok := parseBool(values[0])
		if !ok {
			return nil, fmt.Errorf("parse qrexec url %q: list_head_only: invalid boolean %q", rawurl, values[0])
		}
		spec.ListHeadOnly = b
	}
	return spec, nil
}

// parseBool parses the boolean vocabulary accepted in query parameters:
// true/false/yes/no/on/off/1/0, case-insensitively.
func parseBool(v string) (_ bool, ok bool) {
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true, true
	case "false", "no", "off", "0":
		return false, true
	default:
		return false, false
	}
}
