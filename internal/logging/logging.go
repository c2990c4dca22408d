// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package logging configures zerolog for the harness and adapts it to the
// logger interfaces expected by consensus libraries and tests.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatPlain = "plain"
	FormatJSON  = "json"
)

// New returns a logger writing to w at the given level. Unknown levels are
// treated as info.
func New(w io.Writer, format, level string) zerolog.Logger {
	if format == FormatPlain {
		w = newConsoleWriter(w)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// NewForCommand returns a logger suitable for CLI output.
func NewForCommand(level string) zerolog.Logger {
	return New(os.Stderr, FormatPlain, level)
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}
}
