// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package oracle_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/logging"
	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/oracle"
	"gitlab.com/tesseratest/tessera/internal/seqgen"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// testNode runs the ledger in-process; Restart reopens the database so
// restart commands exercise the real persistence path.
type testNode struct {
	t     *testing.T
	dir   string
	opts  ledger.Options
	store *ledger.Store
	tr    wire.Transport
}

func newTestNode(t *testing.T, opts ledger.Options) *testNode {
	t.Helper()
	opts.Logger = logging.NewTestLogger(t)
	n := &testNode{t: t, dir: filepath.Join(t.TempDir(), "data"), opts: opts}
	n.open()
	t.Cleanup(func() { _ = n.store.Close() })
	return n
}

func (n *testNode) open() {
	store, err := ledger.OpenStore(n.dir)
	require.NoError(n.t, err)
	app, err := ledger.New(store, n.opts)
	require.NoError(n.t, err)
	n.store = store
	n.tr = wire.NewLocal(wire.FlavorFinalize, app)
}

func (n *testNode) Restart(context.Context) error {
	if err := n.store.Close(); err != nil {
		return err
	}
	n.open()
	return nil
}

func (n *testNode) Transport() wire.Transport { return n.tr }
func (n *testNode) StderrTail() string        { return "node stderr" }

func initNode(t *testing.T, n oracle.Node, state *model.State) {
	t.Helper()
	hash, err := n.Transport().InitChain(context.Background(), "test-chain", nil, state.Genesis().Encode())
	require.NoError(t, err)
	require.Equal(t, state.AppHash, hash)
}

func TestRunSequencePasses(t *testing.T) {
	node := newTestNode(t, ledger.Options{})
	state := model.NewState(map[string]uint64{"alice": 100, "bob": 0}, map[string]int64{"v1": 10})
	initNode(t, node, state)

	o := &oracle.Oracle{Logger: logging.NewTestLogger(t)}
	seq := []model.Command{
		model.AdvanceBlock{},
		model.SubmitTransfer{From: "alice", To: "bob", Amount: 30},
		model.SubmitBond{Validator: "v2", Power: 5},
		model.AdvanceBlock{},
		model.QueryBalance{Account: "bob"},
		model.RestartNode{},
		model.SubmitBurn{From: "bob", Amount: 10},
		model.AdvanceBlock{},
		model.QueryInfo{},
	}
	final, cex, err := o.RunSequence(context.Background(), node, state, seq)
	require.NoError(t, err)
	require.Nil(t, cex)
	require.Equal(t, int64(3), final.Height)
	require.Equal(t, uint64(20), final.Accounts["bob"])
}

func TestRunSequenceSurvivesGeneratedTraffic(t *testing.T) {
	node := newTestNode(t, ledger.Options{})
	state := model.NewState(
		map[string]uint64{"alice": 250, "bob": 250, "carol": 250, "dave": 250},
		map[string]int64{"v1": 10, "v2": 10, "v3": 10},
	)
	initNode(t, node, state)

	g := seqgen.New(seqgen.Config{Seed: 99})
	o := &oracle.Oracle{Logger: logging.NewTestLogger(t)}
	for i := 0; i < 60; i++ {
		cmd := g.Next(state)
		next, cex, err := o.RunSequence(context.Background(), node, state, []model.Command{cmd})
		require.NoError(t, err, "command %d (%s)", i, cmd)
		require.Nil(t, cex, "command %d (%s)", i, cmd)
		state = next
	}
}

func TestRunSequenceDetectsInjectedFault(t *testing.T) {
	node := newTestNode(t, ledger.Options{FaultHeight: 2, FaultAccount: "alice"})
	state := model.NewState(map[string]uint64{"alice": 100}, nil)
	initNode(t, node, state)

	o := &oracle.Oracle{Logger: logging.NewTestLogger(t)}
	seq := []model.Command{
		model.AdvanceBlock{},
		model.AdvanceBlock{},
		model.QueryBalance{Account: "alice"},
	}
	_, cex, err := o.RunSequence(context.Background(), node, state, seq)
	require.NoError(t, err)
	require.NotNil(t, cex)
	require.Equal(t, 1, cex.Index)
	require.Contains(t, cex.Reason, "app hash")
	require.Equal(t, "node stderr", cex.Stderr)
	require.Contains(t, cex.Error(), "AdvanceBlock")
	require.Contains(t, cex.Dump(), "divergence at command 1")
}

func TestRunSequenceHaltsOnPreconditionViolation(t *testing.T) {
	node := newTestNode(t, ledger.Options{})
	state := model.NewState(map[string]uint64{"alice": 10}, nil)
	initNode(t, node, state)

	o := &oracle.Oracle{Logger: logging.NewTestLogger(t)}
	_, cex, err := o.RunSequence(context.Background(), node, state, []model.Command{
		model.SubmitTransfer{From: "ghost", To: "alice", Amount: 1},
	})
	require.ErrorIs(t, err, model.ErrPrecondition)
	require.Nil(t, cex)
}

func TestEquivalentToleratesLogsAndOrder(t *testing.T) {
	ok, _ := oracle.Equivalent(
		&model.Expected{TxResult: &wire.TxResult{Code: 2}},
		&model.Expected{TxResult: &wire.TxResult{Code: 2, Log: "balance 5 < 10"}},
	)
	require.True(t, ok)

	ok, reason := oracle.Equivalent(
		&model.Expected{TxResult: &wire.TxResult{Code: 0}},
		&model.Expected{TxResult: &wire.TxResult{Code: 2}},
	)
	require.False(t, ok)
	require.Contains(t, reason, "tx code")

	// Validator updates compare as sets.
	hash := []byte{1, 2, 3}
	a := &model.Expected{Block: &wire.BlockResult{Height: 1, AppHash: hash, ValidatorUpdates: []wire.ValidatorUpdate{
		{PubKey: wire.ValidatorKey("v1"), Power: 1},
		{PubKey: wire.ValidatorKey("v2"), Power: 2},
	}}}
	b := &model.Expected{Block: &wire.BlockResult{Height: 1, AppHash: hash, ValidatorUpdates: []wire.ValidatorUpdate{
		{PubKey: wire.ValidatorKey("v2"), Power: 2},
		{PubKey: wire.ValidatorKey("v1"), Power: 1},
	}}}
	ok, _ = oracle.Equivalent(a, b)
	require.True(t, ok)

	// The app hash is not tolerated.
	b.Block.AppHash = []byte{9, 9, 9}
	ok, reason = oracle.Equivalent(a, b)
	require.False(t, ok)
	require.Contains(t, reason, "app hash")

	// Mismatched response kinds never pass.
	ok, _ = oracle.Equivalent(
		&model.Expected{Query: &wire.QueryResult{Code: 0, Value: []byte("5")}},
		&model.Expected{Info: &wire.NodeInfo{}},
	)
	require.False(t, ok)
}
