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
)

// DialConfig selects the wire revision and endpoint for a node connection.
// The flavor is fixed for the lifetime of the transport.
type DialConfig struct {
	Flavor  Flavor
	Addr    string
	ChainID string
	Timeout time.Duration
}

const defaultCallTimeout = 10 * time.Second

// Dial connects to a node's ABCI socket.
func Dial(cfg DialConfig) (Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	switch cfg.Flavor {
	case FlavorLegacy:
		return dialLegacy(cfg)
	case FlavorFinalize:
		return dialFinalize(cfg)
	default:
		return nil, fmt.Errorf("unknown wire flavor %v", cfg.Flavor)
	}
}

// Local is an in-process transport that invokes the application directly,
// bypassing the socket. It enforces the same call-ordering contract as the
// socket transports so tests exercise identical sequencing behavior.
type Local struct {
	flavor Flavor
	app    Application
	seq    *Sequencer
}

var _ Transport = (*Local)(nil)

func NewLocal(flavor Flavor, app Application) *Local {
	return &Local{flavor: flavor, app: app, seq: NewSequencer(0)}
}

func (l *Local) Flavor() Flavor { return l.flavor }
func (l *Local) Close() error   { return nil }

func (l *Local) Echo(_ context.Context, msg string) (string, error) {
	return msg, nil
}

func (l *Local) Info(context.Context) (*NodeInfo, error) {
	info, err := l.app.Info()
	if err != nil {
		return nil, err
	}
	l.seq = NewSequencer(info.LastHeight)
	return info, nil
}

func (l *Local) InitChain(_ context.Context, chainID string, validators []ValidatorUpdate, appState []byte) ([]byte, error) {
	return l.app.InitChain(chainID, validators, appState)
}

func (l *Local) CheckTx(_ context.Context, tx []byte) (*TxResult, error) {
	return l.app.CheckTx(tx)
}

func (l *Local) ApplyBlock(_ context.Context, height int64, txs [][]byte) (*BlockResult, error) {
	if err := l.seq.BeginBlock(height); err != nil {
		return nil, err
	}
	for range txs {
		if err := l.seq.DeliverTx(); err != nil {
			return nil, err
		}
	}
	if err := l.seq.EndBlock(height); err != nil {
		return nil, err
	}
	if err := l.seq.Commit(); err != nil {
		return nil, err
	}
	return l.app.ApplyBlock(height, txs)
}

func (l *Local) Query(_ context.Context, path string, data []byte) (*QueryResult, error) {
	return l.app.Query(path, data)
}
