// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"context"

	abci "github.com/cometbft/cometbft/abci/types"
	cmtcrypto "github.com/cometbft/cometbft/proto/tendermint/crypto"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// FinalizeApp adapts App to cometbft's ABCI 2.0 Application interface so the
// finalize-flavor node can be served by the library socket server.
type FinalizeApp struct {
	abci.BaseApplication
	app *App
}

var _ abci.Application = (*FinalizeApp)(nil)

func NewFinalizeApp(app *App) *FinalizeApp { return &FinalizeApp{app: app} }

func (f *FinalizeApp) Info(context.Context, *abci.RequestInfo) (*abci.ResponseInfo, error) {
	info, err := f.app.Info()
	if err != nil {
		return nil, err
	}
	return &abci.ResponseInfo{
		Data:             info.Data,
		LastBlockHeight:  info.LastHeight,
		LastBlockAppHash: info.LastAppHash,
	}, nil
}

func (f *FinalizeApp) InitChain(_ context.Context, req *abci.RequestInitChain) (*abci.ResponseInitChain, error) {
	var vals []wire.ValidatorUpdate
	for _, v := range req.Validators {
		vals = append(vals, wire.ValidatorUpdate{PubKey: v.PubKey.GetEd25519(), Power: v.Power})
	}
	hash, err := f.app.InitChain(req.ChainId, vals, req.AppStateBytes)
	if err != nil {
		return nil, err
	}
	return &abci.ResponseInitChain{AppHash: hash}, nil
}

func (f *FinalizeApp) CheckTx(_ context.Context, req *abci.RequestCheckTx) (*abci.ResponseCheckTx, error) {
	r, err := f.app.CheckTx(req.Tx)
	if err != nil {
		return nil, err
	}
	return &abci.ResponseCheckTx{Code: r.Code, Log: r.Log}, nil
}

func (f *FinalizeApp) FinalizeBlock(_ context.Context, req *abci.RequestFinalizeBlock) (*abci.ResponseFinalizeBlock, error) {
	if err := f.app.BeginBlock(req.Height); err != nil {
		return nil, err
	}
	resp := new(abci.ResponseFinalizeBlock)
	for _, tx := range req.Txs {
		r, err := f.app.DeliverTx(tx)
		if err != nil {
			return nil, err
		}
		resp.TxResults = append(resp.TxResults, &abci.ExecTxResult{Code: r.Code, Log: r.Log})
	}
	updates, err := f.app.EndBlock(req.Height)
	if err != nil {
		return nil, err
	}
	for _, v := range updates {
		resp.ValidatorUpdates = append(resp.ValidatorUpdates, abci.ValidatorUpdate{
			PubKey: cmtcrypto.PublicKey{Sum: &cmtcrypto.PublicKey_Ed25519{Ed25519: v.PubKey}},
			Power:  v.Power,
		})
	}
	resp.AppHash = f.app.WorkingHash()
	return resp, nil
}

func (f *FinalizeApp) Commit(context.Context, *abci.RequestCommit) (*abci.ResponseCommit, error) {
	if _, err := f.app.Commit(); err != nil {
		return nil, err
	}
	return &abci.ResponseCommit{}, nil
}

func (f *FinalizeApp) Query(_ context.Context, req *abci.RequestQuery) (*abci.ResponseQuery, error) {
	r, err := f.app.Query(req.Path, req.Data)
	if err != nil {
		return nil, err
	}
	return &abci.ResponseQuery{Code: r.Code, Value: r.Value, Log: r.Log}, nil
}
