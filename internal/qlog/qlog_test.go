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

package qlog

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetVerbosity(t *testing.T) {
	tests := []struct {
		n    int
		want zapcore.Level
	}{
		{-3, zapcore.WarnLevel},
		{-1, zapcore.WarnLevel},
		{0, zapcore.InfoLevel},
		{1, zapcore.DebugLevel},
		{5, zapcore.DebugLevel},
	}
	l := New()
	for _, test := range tests {
		l.SetVerbosity(test.n)
		if got := l.level.Level(); got != test.want {
			t.Errorf("SetVerbosity(%d); level = %v, want %v", test.n, got, test.want)
		}
	}
}
