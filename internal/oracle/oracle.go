// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package oracle executes commands against the model and the real node in
// lockstep and compares the observable responses. A mismatch is the failure
// this harness exists to find; it aborts the sequence immediately, with no
// retry, so faults are detected deterministically rather than masked.
package oracle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// Node is one real node under test.
type Node interface {
	Transport() wire.Transport

	// Restart kills and respawns the node on its persisted state, then
	// reconnects the transport.
	Restart(ctx context.Context) error

	// StderrTail returns recent node output for failure reports.
	StderrTail() string
}

// Oracle drives sequences against a node.
type Oracle struct {
	Logger zerolog.Logger
}

// Step executes one command against the real node and returns the observed
// response in the same shape the model predicts. state is the model state
// *before* the command: its pending queue is the harness-side mempool that
// AdvanceBlock drains into the block.
func (o *Oracle) Step(ctx context.Context, node Node, state *model.State, cmd model.Command) (*model.Expected, error) {
	t := node.Transport()
	switch c := cmd.(type) {
	case model.SubmitTransfer:
		r, err := t.CheckTx(ctx, c.Tx().Encode())
		return &model.Expected{TxResult: r}, err
	case model.SubmitMint:
		r, err := t.CheckTx(ctx, c.Tx().Encode())
		return &model.Expected{TxResult: r}, err
	case model.SubmitBurn:
		r, err := t.CheckTx(ctx, c.Tx().Encode())
		return &model.Expected{TxResult: r}, err
	case model.SubmitBond:
		r, err := t.CheckTx(ctx, c.Tx().Encode())
		return &model.Expected{TxResult: r}, err

	case model.AdvanceBlock:
		r, err := t.ApplyBlock(ctx, state.Height+1, EncodeTxs(state.Pending))
		return &model.Expected{Block: r}, err

	case model.QueryBalance:
		r, err := t.Query(ctx, "/balance/"+c.Account, nil)
		return &model.Expected{Query: r}, err

	case model.QueryInfo:
		r, err := t.Info(ctx)
		return &model.Expected{Info: r}, err

	case model.RestartNode:
		if err := node.Restart(ctx); err != nil {
			return nil, fmt.Errorf("restart node: %w", err)
		}
		r, err := node.Transport().Info(ctx)
		return &model.Expected{Info: r}, err

	default:
		return nil, fmt.Errorf("oracle cannot execute %T", cmd)
	}
}

// RunSequence executes seq in order. It returns the final model state on
// success, a counterexample on divergence, or an error for infrastructure
// and model failures. Model failures wrap model.ErrPrecondition and must
// halt the whole run.
func (o *Oracle) RunSequence(ctx context.Context, node Node, state *model.State, seq []model.Command) (*model.State, *Counterexample, error) {
	for i, cmd := range seq {
		next, expected, err := model.Apply(state, cmd)
		if err != nil {
			return nil, nil, err
		}
		observed, err := o.Step(ctx, node, state, cmd)
		if err != nil {
			return nil, nil, fmt.Errorf("command %d (%s): %w", i, cmd, err)
		}
		if ok, reason := Equivalent(expected, observed); !ok {
			o.Logger.Error().Int("command", i).Str("reason", reason).Msg("Divergence from model")
			return nil, NewCounterexample(seq, i, reason, expected, observed, state, node.StderrTail()), nil
		}
		state = next
	}
	return state, nil, nil
}

// EncodeTxs renders a pending queue for a block.
func EncodeTxs(pending []*ledger.Tx) [][]byte {
	txs := make([][]byte, len(pending))
	for i, tx := range pending {
		txs[i] = tx.Encode()
	}
	return txs
}
