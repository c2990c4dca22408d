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

	abci "github.com/cometbft/cometbft/abci/types"
	cmtcrypto "github.com/cometbft/cometbft/proto/tendermint/crypto"
)

// finalizeTransport speaks the ABCI 2.0 wire revision: the block group is a
// single FinalizeBlock call and the app hash rides on its response.
type finalizeTransport struct {
	conn *frameConn
	seq  *Sequencer
}

func dialFinalize(cfg DialConfig) (Transport, error) {
	conn, err := dialFrameConn(cfg.Addr, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &finalizeTransport{conn: conn, seq: NewSequencer(0)}, nil
}

func (t *finalizeTransport) Flavor() Flavor { return FlavorFinalize }
func (t *finalizeTransport) Close() error   { return t.conn.Close() }

func (t *finalizeTransport) roundTrip(ctx context.Context, req *abci.Request) (*abci.Response, error) {
	if err := t.conn.writeMsg(ctx, req); err != nil {
		return nil, err
	}
	if err := t.conn.writeMsg(ctx, abci.ToRequestFlush()); err != nil {
		return nil, err
	}
	resp := new(abci.Response)
	if err := t.conn.readMsg(ctx, resp); err != nil {
		return nil, err
	}
	if ex := resp.GetException(); ex != nil {
		return nil, fmt.Errorf("application exception: %s", ex.Error)
	}
	flush := new(abci.Response)
	if err := t.conn.readMsg(ctx, flush); err != nil {
		return nil, err
	}
	if flush.GetFlush() == nil {
		return nil, fmt.Errorf("%w: missing flush acknowledgment", ErrMalformedFrame)
	}
	return resp, nil
}

func (t *finalizeTransport) Echo(ctx context.Context, msg string) (string, error) {
	resp, err := t.roundTrip(ctx, abci.ToRequestEcho(msg))
	if err != nil {
		return "", err
	}
	r := resp.GetEcho()
	if r == nil {
		return "", fmt.Errorf("%w: response does not pair with Echo", ErrMalformedFrame)
	}
	return r.Message, nil
}

func (t *finalizeTransport) Info(ctx context.Context) (*NodeInfo, error) {
	resp, err := t.roundTrip(ctx, abci.ToRequestInfo(&abci.RequestInfo{Version: "tessera"}))
	if err != nil {
		return nil, err
	}
	r := resp.GetInfo()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with Info", ErrMalformedFrame)
	}
	t.seq = NewSequencer(r.LastBlockHeight)
	return &NodeInfo{Data: r.Data, LastHeight: r.LastBlockHeight, LastAppHash: r.LastBlockAppHash}, nil
}

func (t *finalizeTransport) InitChain(ctx context.Context, chainID string, validators []ValidatorUpdate, appState []byte) ([]byte, error) {
	req := &abci.RequestInitChain{
		Time:          time.Unix(0, 0).UTC(),
		ChainId:       chainID,
		Validators:    toFinalizeValidators(validators),
		AppStateBytes: appState,
		InitialHeight: 1,
	}
	resp, err := t.roundTrip(ctx, abci.ToRequestInitChain(req))
	if err != nil {
		return nil, err
	}
	r := resp.GetInitChain()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with InitChain", ErrMalformedFrame)
	}
	return r.AppHash, nil
}

func (t *finalizeTransport) CheckTx(ctx context.Context, tx []byte) (*TxResult, error) {
	resp, err := t.roundTrip(ctx, abci.ToRequestCheckTx(&abci.RequestCheckTx{Tx: tx, Type: abci.CheckTxType_New}))
	if err != nil {
		return nil, err
	}
	r := resp.GetCheckTx()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with CheckTx", ErrMalformedFrame)
	}
	return &TxResult{Code: r.Code, Log: r.Log}, nil
}

func (t *finalizeTransport) ApplyBlock(ctx context.Context, height int64, txs [][]byte) (*BlockResult, error) {
	// The block group is one wire call, but the ordering contract is the
	// same as the legacy revision's, so drive the sequencer through the
	// whole group up front.
	if err := t.seq.BeginBlock(height); err != nil {
		return nil, err
	}
	for range txs {
		if err := t.seq.DeliverTx(); err != nil {
			return nil, err
		}
	}
	if err := t.seq.EndBlock(height); err != nil {
		return nil, err
	}

	req := &abci.RequestFinalizeBlock{
		Txs:    txs,
		Height: height,
		Time:   time.Unix(height, 0).UTC(),
	}
	resp, err := t.roundTrip(ctx, abci.ToRequestFinalizeBlock(req))
	if err != nil {
		return nil, err
	}
	r := resp.GetFinalizeBlock()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with FinalizeBlock", ErrMalformedFrame)
	}

	result := &BlockResult{Height: height, AppHash: r.AppHash}
	for _, txr := range r.TxResults {
		result.TxResults = append(result.TxResults, TxResult{Code: txr.Code, Log: txr.Log})
	}
	for _, v := range r.ValidatorUpdates {
		result.ValidatorUpdates = append(result.ValidatorUpdates, ValidatorUpdate{PubKey: v.PubKey.GetEd25519(), Power: v.Power})
	}

	if err := t.seq.Commit(); err != nil {
		return nil, err
	}
	cresp, err := t.roundTrip(ctx, abci.ToRequestCommit())
	if err != nil {
		return nil, err
	}
	if cresp.GetCommit() == nil {
		return nil, fmt.Errorf("%w: response does not pair with Commit", ErrMalformedFrame)
	}
	return result, nil
}

func (t *finalizeTransport) Query(ctx context.Context, path string, data []byte) (*QueryResult, error) {
	resp, err := t.roundTrip(ctx, abci.ToRequestQuery(&abci.RequestQuery{Path: path, Data: data}))
	if err != nil {
		return nil, err
	}
	r := resp.GetQuery()
	if r == nil {
		return nil, fmt.Errorf("%w: response does not pair with Query", ErrMalformedFrame)
	}
	return &QueryResult{Code: r.Code, Value: r.Value, Log: r.Log}, nil
}

func toFinalizeValidators(vals []ValidatorUpdate) []abci.ValidatorUpdate {
	out := make([]abci.ValidatorUpdate, len(vals))
	for i, v := range vals {
		out[i] = abci.ValidatorUpdate{
			PubKey: cmtcrypto.PublicKey{Sum: &cmtcrypto.PublicKey_Ed25519{Ed25519: v.PubKey}},
			Power:  v.Power,
		}
	}
	return out
}
