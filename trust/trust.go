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

// Package trust marks data read from an untrusted remote so that it cannot
// reach a consumer without first passing an explicit verification step.
//
// Every byte that crosses the qrexec boundary starts out wrapped in
// Untrusted and stays wrapped until Verify succeeds. Go has no type system
// feature that forbids reusing the original tainted value once verified, so
// the discipline is: call Verify, keep the returned value, and discard the
// Untrusted wrapper it came from.
package trust

// Untrusted wraps a value of type T that originated from an unverified
// source (the remote peer, over qrexec). The wrapped value cannot be
// observed except by calling Verify.
type Untrusted[T any] struct {
	v T
}

// TaintBytes wraps a byte slice read from an untrusted source.
func TaintBytes(b []byte) Untrusted[[]byte] {
	return Untrusted[[]byte]{v: b}
}

// TaintString wraps a string read from an untrusted source.
func TaintString(s string) Untrusted[string] {
	return Untrusted[string]{v: s}
}

// Taint wraps an arbitrary value read from an untrusted source.
func Taint[T any](v T) Untrusted[T] {
	return Untrusted[T]{v: v}
}

// Verify runs check against the wrapped value. If check reports no error,
// Verify returns the now-trusted value. If check fails, Verify returns the
// zero value of T along with the error; the wrapped value is never exposed
// on failure.
func (u Untrusted[T]) Verify(check func(T) error) (T, error) {
	if err := check(u.v); err != nil {
		var zero T
		return zero, err
	}
	return u.v, nil
}
