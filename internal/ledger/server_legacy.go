// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	abciv1beta1 "github.com/cometbft/cometbft/api/cometbft/abci/v1beta1"
	cryptov1 "github.com/cometbft/cometbft/api/cometbft/crypto/v1"
	cmtnet "github.com/cometbft/cometbft/libs/net"
	"github.com/cometbft/cometbft/libs/protoio"
	"github.com/rs/zerolog"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

const maxRequestSize = 1 << 20

// LegacyServer serves the v0.34-era wire revision. No maintained server
// exists for the retired revision, so this is a minimal protoio loop in the
// shape of the cometbft socket server: one ordered stream per connection,
// responses buffered until a Flush request.
type LegacyServer struct {
	addr   string
	app    *App
	logger zerolog.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	quit  chan struct{}
}

func NewLegacyServer(addr string, app *App, logger zerolog.Logger) *LegacyServer {
	return &LegacyServer{
		addr:   addr,
		app:    app,
		logger: logger,
		conns:  map[net.Conn]struct{}{},
		quit:   make(chan struct{}),
	}
}

func (s *LegacyServer) Start() error {
	proto, addr := cmtnet.ProtocolAndAddress(s.addr)
	if proto == "unix" {
		// A stale socket file from a killed process blocks rebinding.
		_ = os.Remove(addr)
	}
	ln, err := net.Listen(proto, addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop()
	s.logger.Info().Str("addr", s.addr).Msg("Legacy ABCI server listening")
	return nil
}

func (s *LegacyServer) Stop() error {
	close(s.quit)
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	return err
}

func (s *LegacyServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Error().Err(err).Msg("Accept failed")
				return
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *LegacyServer) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := protoio.NewDelimitedReader(conn, maxRequestSize)
	bw := bufio.NewWriter(conn)
	writer := protoio.NewDelimitedWriter(bw)

	for {
		req := new(abciv1beta1.Request)
		if _, err := reader.ReadMsg(req); err != nil {
			select {
			case <-s.quit:
			default:
				s.logger.Debug().Err(err).Msg("Connection closed")
			}
			return
		}
		resp := s.handleRequest(req)
		if _, err := writer.WriteMsg(resp); err != nil {
			s.logger.Error().Err(err).Msg("Write response failed")
			return
		}
		if req.GetFlush() != nil {
			if err := bw.Flush(); err != nil {
				s.logger.Error().Err(err).Msg("Flush failed")
				return
			}
		}
	}
}

func (s *LegacyServer) handleRequest(req *abciv1beta1.Request) *abciv1beta1.Response {
	switch r := req.Value.(type) {
	case *abciv1beta1.Request_Flush:
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_Flush{Flush: &abciv1beta1.ResponseFlush{}}}

	case *abciv1beta1.Request_Echo:
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_Echo{Echo: &abciv1beta1.ResponseEcho{Message: r.Echo.Message}}}

	case *abciv1beta1.Request_Info:
		info, err := s.app.Info()
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_Info{Info: &abciv1beta1.ResponseInfo{
			Data:             info.Data,
			LastBlockHeight:  info.LastHeight,
			LastBlockAppHash: info.LastAppHash,
		}}}

	case *abciv1beta1.Request_InitChain:
		var vals []wire.ValidatorUpdate
		for _, v := range r.InitChain.Validators {
			vals = append(vals, wire.ValidatorUpdate{PubKey: v.PubKey.GetEd25519(), Power: v.Power})
		}
		hash, err := s.app.InitChain(r.InitChain.ChainId, vals, r.InitChain.AppStateBytes)
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_InitChain{InitChain: &abciv1beta1.ResponseInitChain{AppHash: hash}}}

	case *abciv1beta1.Request_CheckTx:
		res, err := s.app.CheckTx(r.CheckTx.Tx)
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_CheckTx{CheckTx: &abciv1beta1.ResponseCheckTx{Code: res.Code, Log: res.Log}}}

	case *abciv1beta1.Request_Query:
		res, err := s.app.Query(r.Query.Path, r.Query.Data)
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_Query{Query: &abciv1beta1.ResponseQuery{Code: res.Code, Value: res.Value, Log: res.Log}}}

	case *abciv1beta1.Request_BeginBlock:
		if err := s.app.BeginBlock(r.BeginBlock.Header.Height); err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_BeginBlock{BeginBlock: &abciv1beta1.ResponseBeginBlock{}}}

	case *abciv1beta1.Request_DeliverTx:
		res, err := s.app.DeliverTx(r.DeliverTx.Tx)
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_DeliverTx{DeliverTx: &abciv1beta1.ResponseDeliverTx{Code: res.Code, Log: res.Log}}}

	case *abciv1beta1.Request_EndBlock:
		updates, err := s.app.EndBlock(r.EndBlock.Height)
		if err != nil {
			return exception(err)
		}
		out := make([]abciv1beta1.ValidatorUpdate, len(updates))
		for i, v := range updates {
			out[i] = abciv1beta1.ValidatorUpdate{
				PubKey: cryptov1.PublicKey{Sum: &cryptov1.PublicKey_Ed25519{Ed25519: v.PubKey}},
				Power:  v.Power,
			}
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_EndBlock{EndBlock: &abciv1beta1.ResponseEndBlock{ValidatorUpdates: out}}}

	case *abciv1beta1.Request_Commit:
		hash, err := s.app.Commit()
		if err != nil {
			return exception(err)
		}
		return &abciv1beta1.Response{Value: &abciv1beta1.Response_Commit{Commit: &abciv1beta1.ResponseCommit{Data: hash}}}

	default:
		return exception(fmt.Errorf("unsupported request %T", req.Value))
	}
}

func exception(err error) *abciv1beta1.Response {
	return &abciv1beta1.Response{Value: &abciv1beta1.Response_Exception{Exception: &abciv1beta1.ResponseException{Error: err.Error()}}}
}
