// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package wire

import (
	"context"
	"fmt"
	"time"

	abciv1beta1 "github.com/cometbft/cometbft/api/cometbft/abci/v1beta1"
	cryptov1 "github.com/cometbft/cometbft/api/cometbft/crypto/v1"
	typesv1beta1 "github.com/cometbft/cometbft/api/cometbft/types/v1beta1"
)

// legacyTransport speaks the v0.34-era wire revision: one framed call per
// block phase, app hash carried by the Commit response.
type legacyTransport struct {
	conn     *frameConn
	seq      *Sequencer
	chainID  string
	lastHash []byte
}

func dialLegacy(cfg DialConfig) (Transport, error) {
	conn, err := dialFrameConn(cfg.Addr, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &legacyTransport{conn: conn, seq: NewSequencer(0), chainID: cfg.ChainID}, nil
}

func (t *legacyTransport) Flavor() Flavor { return FlavorLegacy }
func (t *legacyTransport) Close() error   { return t.conn.Close() }

func (t *legacyTransport) roundTrip(ctx context.Context, req *abciv1beta1.Request) (*abciv1beta1.Response, error) {
	if err := t.conn.writeMsg(ctx, req); err != nil {
		return nil, err
	}
	flushReq := &abciv1beta1.Request{Value: &abciv1beta1.Request_Flush{Flush: &abciv1beta1.RequestFlush{}}}
	if err := t.conn.writeMsg(ctx, flushReq); err != nil {
		return nil, err
	}
	resp := new(abciv1beta1.Response)
	if err := t.conn.readMsg(ctx, resp); err != nil {
		return nil, err
	}
	if ex := resp.GetException(); ex != nil {
		return nil, fmt.Errorf("application exception: %s", ex.Error)
	}
	flush := new(abciv1beta1.Response)
	if err := t.conn.readMsg(ctx, flush); err != nil {
		return nil, err
	}
	if flush.GetFlush() == nil {
		return nil, fmt.Errorf("%w: missing flush acknowledgment", ErrMalformedFrame)
	}
	return resp, nil
}

func (t *legacyTransport) Echo(ctx context.Context, msg string) (string, error) {
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_Echo{Echo: &abciv1beta1.RequestEcho{Message: msg}}})
	if err != nil {
		return "", err
	}
	r := resp.GetEcho()
	if r == nil {
		return "", fmt.Errorf("%w: response does not pair with Echo", ErrMalformedFrame)
	}
	return r.Message, nil
}

func (t *legacyTransport) Info(ctx context.Context) (*NodeInfo, error) {
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_Info{Info: &abciv1beta1.RequestInfo{Version: "tessera"}}})
	if err != nil {
		return nil, err
	}
	r := resp.GetInfo()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with Info", ErrMalformedFrame)
	}
	// Resynchronize with the node's persisted height, e.g. after a restart.
	t.seq = NewSequencer(r.LastBlockHeight)
	t.lastHash = r.LastBlockAppHash
	return &NodeInfo{Data: r.Data, LastHeight: r.LastBlockHeight, LastAppHash: r.LastBlockAppHash}, nil
}

func (t *legacyTransport) InitChain(ctx context.Context, chainID string, validators []ValidatorUpdate, appState []byte) ([]byte, error) {
	t.chainID = chainID
	req := &abciv1beta1.RequestInitChain{
		Time:          time.Unix(0, 0).UTC(),
		ChainId:       chainID,
		Validators:    toLegacyValidators(validators),
		AppStateBytes: appState,
		InitialHeight: 1,
	}
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_InitChain{InitChain: req}})
	if err != nil {
		return nil, err
	}
	r := resp.GetInitChain()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with InitChain", ErrMalformedFrame)
	}
	t.lastHash = r.AppHash
	return r.AppHash, nil
}

func (t *legacyTransport) CheckTx(ctx context.Context, tx []byte) (*TxResult, error) {
	req := &abciv1beta1.RequestCheckTx{Tx: tx, Type: abciv1beta1.CheckTxType_New}
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_CheckTx{CheckTx: req}})
	if err != nil {
		return nil, err
	}
	r := resp.GetCheckTx()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with CheckTx", ErrMalformedFrame)
	}
	return &TxResult{Code: r.Code, Log: r.Log}, nil
}

func (t *legacyTransport) ApplyBlock(ctx context.Context, height int64, txs [][]byte) (*BlockResult, error) {
	if err := t.seq.BeginBlock(height); err != nil {
		return nil, err
	}
	begin := &abciv1beta1.RequestBeginBlock{
		Header: typesv1beta1.Header{
			ChainID: t.chainID,
			Height:  height,
			Time:    time.Unix(height, 0).UTC(),
			AppHash: t.lastHash,
		},
	}
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_BeginBlock{BeginBlock: begin}})
	if err != nil {
		return nil, err
	}
	if resp.GetBeginBlock() == nil {
		return nil, fmt.Errorf("%w: response does not pair with BeginBlock", ErrMalformedFrame)
	}

	result := &BlockResult{Height: height}
	for _, tx := range txs {
		if err := t.seq.DeliverTx(); err != nil {
			return nil, err
		}
		resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_DeliverTx{DeliverTx: &abciv1beta1.RequestDeliverTx{Tx: tx}}})
		if err != nil {
			return nil, err
		}
		r := resp.GetDeliverTx()
		if r == nil {
			return nil, fmt.Errorf("%w: response does not pair with DeliverTx", ErrMalformedFrame)
		}
		result.TxResults = append(result.TxResults, TxResult{Code: r.Code, Log: r.Log})
	}

	if err := t.seq.EndBlock(height); err != nil {
		return nil, err
	}
	resp, err = t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_EndBlock{EndBlock: &abciv1beta1.RequestEndBlock{Height: height}}})
	if err != nil {
		return nil, err
	}
	end := resp.GetEndBlock()
	if end == nil {
		return nil, fmt.Errorf("%w: response does not pair with EndBlock", ErrMalformedFrame)
	}
	result.ValidatorUpdates = fromLegacyValidators(end.ValidatorUpdates)

	if err := t.seq.Commit(); err != nil {
		return nil, err
	}
	resp, err = t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_Commit{Commit: &abciv1beta1.RequestCommit{}}})
	if err != nil {
		return nil, err
	}
	commit := resp.GetCommit()
	if commit == nil {
		return nil, fmt.Errorf("%w: response does not pair with Commit", ErrMalformedFrame)
	}
	result.AppHash = commit.Data
	t.lastHash = commit.Data
	return result, nil
}

func (t *legacyTransport) Query(ctx context.Context, path string, data []byte) (*QueryResult, error) {
	req := &abciv1beta1.RequestQuery{Path: path, Data: data}
	resp, err := t.roundTrip(ctx, &abciv1beta1.Request{Value: &abciv1beta1.Request_Query{Query: req}})
	if err != nil {
		return nil, err
	}
	r := resp.GetQuery()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with Query", ErrMalformedFrame)
	}
	return &QueryResult{Code: r.Code, Value: r.Value, Log: r.Log}, nil
}

func toLegacyValidators(vals []ValidatorUpdate) []abciv1beta1.ValidatorUpdate {
	out := make([]abciv1beta1.ValidatorUpdate, len(vals))
	for i, v := range vals {
		out[i] = abciv1beta1.ValidatorUpdate{
			PubKey: cryptov1.PublicKey{Sum: &cryptov1.PublicKey_Ed25519{Ed25519: v.PubKey}},
			Power:  v.Power,
		}
	}
	return out
}

func fromLegacyValidators(vals []abciv1beta1.ValidatorUpdate) []ValidatorUpdate {
	out := make([]ValidatorUpdate, len(vals))
	for i, v := range vals {
		out[i] = ValidatorUpdate{PubKey: v.PubKey.GetEd25519(), Power: v.Power}
	}
	return out
}
