// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type TestWriter struct {
	Test testing.TB
}

var _ io.Writer = (*TestWriter)(nil)

func (l *TestWriter) Write(b []byte) (int, error) {
	s := string(b)
	if strings.HasSuffix(s, "\n") {
		s = s[:len(s)-1]
	}
	l.Test.Log(s)
	return len(b), nil
}

// NewTestLogger routes log output through t.Log so it is captured per test.
func NewTestLogger(t testing.TB) zerolog.Logger {
	return zerolog.New(newConsoleWriter(&TestWriter{Test: t}))
}
