// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/logging"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

func openApp(t *testing.T, dir string, opts ledger.Options) (*ledger.App, *ledger.Store) {
	t.Helper()
	store, err := ledger.OpenStore(dir)
	require.NoError(t, err)
	opts.Logger = logging.NewTestLogger(t)
	app, err := ledger.New(store, opts)
	require.NoError(t, err)
	return app, store
}

func initChain(t *testing.T, app *ledger.App, accounts map[string]uint64) []byte {
	t.Helper()
	gen := &ledger.Genesis{Accounts: accounts, Validators: map[string]int64{"v1": 10}}
	hash, err := app.InitChain("test-chain", nil, gen.Encode())
	require.NoError(t, err)
	return hash
}

func TestBlockExecution(t *testing.T) {
	app, store := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
	defer func() { _ = store.Close() }()
	initChain(t, app, map[string]uint64{"alice": 100})

	res, err := app.CheckTx((&ledger.Tx{Type: ledger.TxTransfer, From: "alice", To: "bob", Amount: 30}).Encode())
	require.NoError(t, err)
	require.Equal(t, ledger.CodeOK, res.Code)

	block, err := app.ApplyBlock(1, [][]byte{
		(&ledger.Tx{Type: ledger.TxTransfer, From: "alice", To: "bob", Amount: 30}).Encode(),
		(&ledger.Tx{Type: ledger.TxTransfer, From: "alice", To: "bob", Amount: 500}).Encode(),
		(&ledger.Tx{Type: ledger.TxBurn, From: "bob", Amount: 10}).Encode(),
	})
	require.NoError(t, err)
	require.Equal(t, []wire.TxResult{
		{Code: ledger.CodeOK},
		{Code: ledger.CodeInsufficientFunds, Log: "balance 70 < 500"},
		{Code: ledger.CodeOK},
	}, block.TxResults)

	q, err := app.Query("/balance/alice", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("70"), q.Value)
	q, err = app.Query("/balance/bob", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("20"), q.Value)
}

func TestBlockHeightsMustBeConsecutive(t *testing.T) {
	app, store := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
	defer func() { _ = store.Close() }()
	initChain(t, app, map[string]uint64{"alice": 1})

	require.Error(t, app.BeginBlock(2))
	require.NoError(t, app.BeginBlock(1))
	require.Error(t, app.BeginBlock(1))
	_, err := app.Commit()
	require.NoError(t, err)
	require.Error(t, app.BeginBlock(3))
}

func TestCheckTxIgnoresOpenBlock(t *testing.T) {
	app, store := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
	defer func() { _ = store.Close() }()
	initChain(t, app, map[string]uint64{"alice": 50})

	require.NoError(t, app.BeginBlock(1))
	_, err := app.DeliverTx((&ledger.Tx{Type: ledger.TxBurn, From: "alice", Amount: 50}).Encode())
	require.NoError(t, err)

	// The burn is not committed yet, so CheckTx still sees the old balance.
	res, err := app.CheckTx((&ledger.Tx{Type: ledger.TxTransfer, From: "alice", To: "bob", Amount: 50}).Encode())
	require.NoError(t, err)
	require.Equal(t, ledger.CodeOK, res.Code)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	app, store := openApp(t, dir, ledger.Options{})
	initChain(t, app, map[string]uint64{"alice": 100})

	block, err := app.ApplyBlock(1, [][]byte{
		(&ledger.Tx{Type: ledger.TxMint, To: "bob", Amount: 7}).Encode(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	app, store = openApp(t, dir, ledger.Options{})
	defer func() { _ = store.Close() }()

	info, err := app.Info()
	require.NoError(t, err)
	require.Equal(t, int64(1), info.LastHeight)
	require.Equal(t, block.AppHash, info.LastAppHash)

	q, err := app.Query("/balance/bob", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("7"), q.Value)

	// A restored chain cannot be initialized again.
	_, err = app.InitChain("test-chain", nil, (&ledger.Genesis{}).Encode())
	require.Error(t, err)
}

func TestAppHashIsDeterministic(t *testing.T) {
	hashes := make([][]byte, 2)
	for i := range hashes {
		app, store := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
		initChain(t, app, map[string]uint64{"alice": 100, "bob": 2})
		block, err := app.ApplyBlock(1, [][]byte{
			(&ledger.Tx{Type: ledger.TxTransfer, From: "alice", To: "bob", Amount: 30}).Encode(),
		})
		require.NoError(t, err)
		hashes[i] = block.AppHash
		require.NoError(t, store.Close())
	}
	require.Equal(t, hashes[0], hashes[1])
}

func TestFaultInjectionSkewsBalance(t *testing.T) {
	clean, cleanStore := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
	defer func() { _ = cleanStore.Close() }()
	faulty, faultyStore := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{
		FaultHeight:  2,
		FaultAccount: "alice",
	})
	defer func() { _ = faultyStore.Close() }()

	initChain(t, clean, map[string]uint64{"alice": 100})
	initChain(t, faulty, map[string]uint64{"alice": 100})

	b1, err := clean.ApplyBlock(1, nil)
	require.NoError(t, err)
	b2, err := faulty.ApplyBlock(1, nil)
	require.NoError(t, err)
	require.Equal(t, b1.AppHash, b2.AppHash)

	b1, err = clean.ApplyBlock(2, nil)
	require.NoError(t, err)
	b2, err = faulty.ApplyBlock(2, nil)
	require.NoError(t, err)
	require.NotEqual(t, b1.AppHash, b2.AppHash)

	q, err := faulty.Query("/balance/alice", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("101"), q.Value)
}

func TestValidatorQuery(t *testing.T) {
	app, store := openApp(t, filepath.Join(t.TempDir(), "data"), ledger.Options{})
	defer func() { _ = store.Close() }()
	initChain(t, app, map[string]uint64{"alice": 1})

	_, err := app.ApplyBlock(1, [][]byte{
		(&ledger.Tx{Type: ledger.TxBond, Validator: "v2", Power: 3}).Encode(),
	})
	require.NoError(t, err)

	q, err := app.Query("/validators", nil)
	require.NoError(t, err)
	var vals map[string]int64
	require.NoError(t, json.Unmarshal(q.Value, &vals))
	require.Equal(t, map[string]int64{"v1": 10, "v2": 3}, vals)
}

func TestDecodeTxRejectsUnknownTypes(t *testing.T) {
	_, err := ledger.DecodeTx([]byte(`{"type":"teleport"}`))
	require.Error(t, err)
	_, err = ledger.DecodeTx([]byte(`{`))
	require.Error(t, err)

	tx, err := ledger.DecodeTx((&ledger.Tx{Type: ledger.TxMint, To: "a", Amount: 1}).Encode())
	require.NoError(t, err)
	require.Equal(t, ledger.TxMint, tx.Type)
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.toml")
	cfg := &ledger.Config{
		Listen:       "unix:///tmp/abci.sock",
		Flavor:       "legacy",
		DBDir:        "/tmp/data",
		FaultHeight:  3,
		FaultAccount: "alice",
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := ledger.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Listen, loaded.Listen)
	require.Equal(t, cfg.Flavor, loaded.Flavor)
	require.Equal(t, cfg.FaultHeight, loaded.FaultHeight)
	require.Equal(t, "info", loaded.LogLevel)

	_, err = ledger.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
