// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package model_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

func apply(t *testing.T, s *model.State, cmd model.Command) (*model.State, *model.Expected) {
	t.Helper()
	next, expected, err := model.Apply(s, cmd)
	require.NoError(t, err)
	return next, expected
}

func TestTransferLifecycle(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 100, "bob": 0}, map[string]int64{"v1": 10})

	s, expected := apply(t, s, model.AdvanceBlock{})
	require.NotNil(t, expected.Block)
	require.Equal(t, int64(1), expected.Block.Height)
	require.Empty(t, expected.Block.TxResults)

	s, expected = apply(t, s, model.SubmitTransfer{From: "alice", To: "bob", Amount: 30})
	require.Equal(t, ledger.CodeOK, expected.TxResult.Code)
	require.Len(t, s.Pending, 1)
	// Committed balances do not move until the block.
	require.Equal(t, uint64(100), s.Accounts["alice"])

	s, expected = apply(t, s, model.AdvanceBlock{})
	require.Equal(t, int64(2), expected.Block.Height)
	require.Equal(t, []wire.TxResult{{Code: ledger.CodeOK}}, expected.Block.TxResults)
	require.Equal(t, s.Hash(), expected.Block.AppHash)
	require.Empty(t, s.Pending)

	_, expected = apply(t, s, model.QueryBalance{Account: "bob"})
	require.Equal(t, []byte("30"), expected.Query.Value)
	_, expected = apply(t, s, model.QueryBalance{Account: "alice"})
	require.Equal(t, []byte("70"), expected.Query.Value)
}

func TestStaleTransferFailsInBlock(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 100, "bob": 0}, nil)

	// Both transfers check out against committed state, but only one fits.
	s, expected := apply(t, s, model.SubmitTransfer{From: "alice", To: "bob", Amount: 80})
	require.Equal(t, ledger.CodeOK, expected.TxResult.Code)
	s, expected = apply(t, s, model.SubmitTransfer{From: "alice", To: "bob", Amount: 80})
	require.Equal(t, ledger.CodeOK, expected.TxResult.Code)
	require.Len(t, s.Pending, 2)

	s, expected = apply(t, s, model.AdvanceBlock{})
	require.Equal(t, []wire.TxResult{
		{Code: ledger.CodeOK},
		{Code: ledger.CodeInsufficientFunds},
	}, expected.Block.TxResults)
	require.Equal(t, uint64(20), s.Accounts["alice"])
	require.Equal(t, uint64(80), s.Accounts["bob"])
}

func TestMintAndBurn(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 10}, nil)

	s, _ = apply(t, s, model.SubmitMint{To: "bob", Amount: 40})
	s, _ = apply(t, s, model.SubmitBurn{From: "alice", Amount: 5})
	s, expected := apply(t, s, model.AdvanceBlock{})
	require.Equal(t, []wire.TxResult{{Code: ledger.CodeOK}, {Code: ledger.CodeOK}}, expected.Block.TxResults)
	require.Equal(t, uint64(40), s.Accounts["bob"])
	require.Equal(t, uint64(5), s.Accounts["alice"])
	require.Equal(t, uint64(45), s.TotalSupply())
}

func TestBondProducesValidatorUpdates(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 10}, map[string]int64{"v1": 10})

	s, _ = apply(t, s, model.SubmitBond{Validator: "v2", Power: 7})
	s, expected := apply(t, s, model.AdvanceBlock{})
	require.Equal(t, []wire.ValidatorUpdate{
		{PubKey: wire.ValidatorKey("v2"), Power: 7},
	}, expected.Block.ValidatorUpdates)
	require.Equal(t, int64(7), s.Validators["v2"])

	// Power zero removes the validator.
	s, _ = apply(t, s, model.SubmitBond{Validator: "v1", Power: 0})
	s, expected = apply(t, s, model.AdvanceBlock{})
	require.Equal(t, []wire.ValidatorUpdate{
		{PubKey: wire.ValidatorKey("v1"), Power: 0},
	}, expected.Block.ValidatorUpdates)
	require.NotContains(t, s.Validators, "v1")
}

func TestInfoAndRestartExpectations(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 10}, nil)
	s, _ = apply(t, s, model.AdvanceBlock{})

	_, expected := apply(t, s, model.QueryInfo{})
	require.Equal(t, "ledgerd", expected.Info.Data)
	require.Equal(t, int64(1), expected.Info.LastHeight)
	require.Equal(t, s.AppHash, expected.Info.LastAppHash)

	// A restart must not lose committed state or the pending queue.
	s, _ = apply(t, s, model.SubmitMint{To: "alice", Amount: 1})
	next, expected := apply(t, s, model.RestartNode{})
	require.Equal(t, expected.Info.LastHeight, next.Height)
	require.Len(t, next.Pending, 1)
}

func TestPreconditionViolationIsFatal(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 10}, nil)
	_, _, err := model.Apply(s, model.SubmitTransfer{From: "nobody", To: "alice", Amount: 1})
	require.ErrorIs(t, err, model.ErrPrecondition)

	_, _, err = model.Apply(s, model.SubmitTransfer{From: "alice", To: "bob", Amount: 1000})
	require.ErrorIs(t, err, model.ErrPrecondition)
}

func TestApplyDoesNotMutate(t *testing.T) {
	s := model.NewState(map[string]uint64{"alice": 100}, map[string]int64{"v1": 10})
	before := s.Hash()

	_, _ = apply(t, s, model.SubmitMint{To: "alice", Amount: 5})
	_, _ = apply(t, s, model.AdvanceBlock{})
	_, _ = apply(t, s, model.SubmitBond{Validator: "v1", Power: 0})

	assert.Equal(t, before, s.Hash())
	assert.Empty(t, s.Pending)
	assert.Equal(t, int64(0), s.Height)
}

func TestHashCoversHeightAndState(t *testing.T) {
	a := model.NewState(map[string]uint64{"alice": 1}, nil)
	b := model.NewState(map[string]uint64{"alice": 1}, nil)
	require.Equal(t, a.Hash(), b.Hash())

	b.Accounts["alice"] = 2
	require.False(t, bytes.Equal(a.Hash(), b.Hash()))

	b.Accounts["alice"] = 1
	b.Height = 1
	require.False(t, bytes.Equal(a.Hash(), b.Hash()))

	// Pending is harness-side bookkeeping, not chain state.
	a.Pending = append(a.Pending, &ledger.Tx{Type: ledger.TxMint, To: "alice", Amount: 1})
	c := model.NewState(map[string]uint64{"alice": 1}, nil)
	require.Equal(t, c.Hash(), a.Hash())
}
