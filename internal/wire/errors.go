// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package wire

import "errors"

var (
	// ErrTimeout reports that no complete response frame arrived within the
	// per-call bound.
	ErrTimeout = errors.New("call timed out")

	// ErrMalformedFrame reports an unexpected length prefix, an undecodable
	// payload, or a response variant that does not pair with its request.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrDisconnected reports that the peer closed the channel. Whether the
	// close was a clean shutdown or a crash is determined by the process
	// supervisor's exit status, not by the wire layer.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrProtocolViolation reports block calls issued out of order. The
	// driver refuses to reorder silently.
	ErrProtocolViolation = errors.New("protocol order violation")
)
