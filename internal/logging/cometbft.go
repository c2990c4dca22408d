// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/rs/zerolog"
)

// CometLogger adapts a zerolog logger to cometbft's log.Logger so library
// components (the ABCI socket server) share the harness log sink.
type CometLogger struct {
	logger zerolog.Logger
}

var _ cmtlog.Logger = (*CometLogger)(nil)

func NewCometLogger(logger zerolog.Logger) *CometLogger {
	return &CometLogger{logger: logger}
}

func (l *CometLogger) Debug(msg string, keyVals ...interface{}) {
	l.event(l.logger.Debug(), keyVals).Msg(msg)
}

func (l *CometLogger) Info(msg string, keyVals ...interface{}) {
	l.event(l.logger.Info(), keyVals).Msg(msg)
}

func (l *CometLogger) Error(msg string, keyVals ...interface{}) {
	l.event(l.logger.Error(), keyVals).Msg(msg)
}

func (l *CometLogger) With(keyVals ...interface{}) cmtlog.Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keyVals); i += 2 {
		ctx = ctx.Interface(key(keyVals[i]), keyVals[i+1])
	}
	return &CometLogger{logger: ctx.Logger()}
}

func (l *CometLogger) event(e *zerolog.Event, keyVals []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keyVals); i += 2 {
		e = e.Interface(key(keyVals[i]), keyVals[i+1])
	}
	return e
}

func key(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "?"
}
