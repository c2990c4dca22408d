// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	cmtnet "github.com/cometbft/cometbft/libs/net"
	"github.com/cometbft/cometbft/libs/protoio"
	"github.com/cosmos/gogoproto/proto"
)

// maxFrameSize bounds a single response frame. The ledger's responses are
// tiny; anything near this limit indicates a corrupt length prefix.
const maxFrameSize = 1 << 20

// frameConn is a single ordered channel of uvarint-delimited protobuf
// frames. Both wire revisions share this framing; they differ only in the
// messages carried.
type frameConn struct {
	nc      net.Conn
	w       protoio.WriteCloser
	r       protoio.ReadCloser
	timeout time.Duration
}

// dialFrameConn connects to a proto-prefixed address such as
// "unix:///tmp/node.sock" or "tcp://127.0.0.1:26658".
func dialFrameConn(addr string, timeout time.Duration) (*frameConn, error) {
	proto, target := cmtnet.ProtocolAndAddress(addr)
	nc, err := net.DialTimeout(proto, target, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &frameConn{
		nc:      nc,
		w:       protoio.NewDelimitedWriter(nc),
		r:       protoio.NewDelimitedReader(nc, maxFrameSize),
		timeout: timeout,
	}, nil
}

func (c *frameConn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}

func (c *frameConn) writeMsg(ctx context.Context, msg proto.Message) error {
	if err := c.nc.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if _, err := c.w.WriteMsg(msg); err != nil {
		return wrapConnErr(err, "write")
	}
	return nil
}

func (c *frameConn) readMsg(ctx context.Context, msg proto.Message) error {
	if err := c.nc.SetReadDeadline(c.deadline(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if _, err := c.r.ReadMsg(msg); err != nil {
		if isConnErr(err) {
			return wrapConnErr(err, "read")
		}
		// The stream is healthy but the frame is not decodable as the
		// expected message: bad length prefix or bad payload.
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func (c *frameConn) Close() error {
	return c.nc.Close()
}

func isConnErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func wrapConnErr(err error, op string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrDisconnected, op, err)
}
