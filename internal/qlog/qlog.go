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

// Package qlog builds the process-wide logger. All diagnostics go to
// standard error: standard output is the remote-helper protocol channel
// (see the protocol package) and must never carry anything else.
package qlog

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger with a level that the helper protocol's
// "option verbosity <n>" command can adjust at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New returns a Logger writing JSON-free console output to stderr at the
// default (info) level. When stderr is a terminal, warning and error level
// tags are colorized; a non-interactive stderr (the common case, since this
// tool runs as a child of git) gets plain text so capturing it never
// embeds escape codes.
func New() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		encoderCfg.EncodeLevel = colorLevelEncoder
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		level,
	)
	return &Logger{
		Logger: zap.New(core),
		level:  level,
	}
}

// colorLevelEncoder renders a log level's capitalized name in a color
// matching its severity, for terminals.
func colorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var c *color.Color
	switch {
	case l >= zapcore.ErrorLevel:
		c = color.New(color.FgRed, color.Bold)
	case l == zapcore.WarnLevel:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgCyan)
	}
	enc.AppendString(c.Sprint(l.CapitalString()))
}

// SetVerbosity maps the helper protocol's integer verbosity onto a zap
// level: 0 is the default (info), negative values raise the threshold
// (quieter), positive values lower it (louder), matching the conventional
// git remote-helper GIT_TRACE_PACKET-style verbosity scale.
func (l *Logger) SetVerbosity(n int) {
	switch {
	case n <= -1:
		l.level.SetLevel(zapcore.WarnLevel)
	case n == 0:
		l.level.SetLevel(zapcore.InfoLevel)
	default:
		l.level.SetLevel(zapcore.DebugLevel)
	}
}
