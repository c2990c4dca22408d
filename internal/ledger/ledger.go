// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package ledger is the reference application the harness drives: a small
// account/validator ledger persisted in badger, served over either wire
// revision. It exists so the harness has a known-good node to test against
// and a fault-injection point to prove divergence detection works.
package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// state is the committed (and, between BeginBlock and Commit, working)
// ledger state. Maps are copied on block open, never aliased.
type state struct {
	ChainID    string            `json:"chain_id"`
	Height     int64             `json:"height"`
	Accounts   map[string]uint64 `json:"accounts"`
	Validators map[string]int64  `json:"validators"`
	AppHash    []byte            `json:"app_hash"`
}

func (s *state) clone() *state {
	c := &state{ChainID: s.ChainID, Height: s.Height, AppHash: s.AppHash}
	c.Accounts = make(map[string]uint64, len(s.Accounts))
	for k, v := range s.Accounts {
		c.Accounts[k] = v
	}
	c.Validators = make(map[string]int64, len(s.Validators))
	for k, v := range s.Validators {
		c.Validators[k] = v
	}
	return c
}

// hash is the canonical app hash: SHA-256 over the JSON encoding of height,
// accounts, and validators. Go's JSON encoder sorts map keys, which is the
// canonical ordering.
func (s *state) hash() []byte {
	b, err := json.Marshal(struct {
		Height     int64             `json:"height"`
		Accounts   map[string]uint64 `json:"accounts"`
		Validators map[string]int64  `json:"validators"`
	}{s.Height, s.Accounts, s.Validators})
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(b)
	return sum[:]
}

// Options configures an App. FaultHeight/FaultAccount silently skew a
// balance at the given height, for exercising the harness's divergence
// detection.
type Options struct {
	Logger       zerolog.Logger
	FaultHeight  int64
	FaultAccount string
}

// App is the ledger application. It exposes phase-level block calls so both
// wire revisions can be served from the same core, and implements
// wire.Application for in-process use.
type App struct {
	mu        sync.Mutex
	store     *Store
	logger    zerolog.Logger
	opts      Options
	committed *state
	working   *state // non-nil between BeginBlock and Commit
	staged    []wire.ValidatorUpdate
}

var _ wire.Application = (*App)(nil)

// New loads the committed state from the store, or starts empty if the
// store is fresh.
func New(store *Store, opts Options) (*App, error) {
	a := &App{store: store, logger: opts.Logger, opts: opts}
	b, ok, err := store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if ok {
		a.committed = new(state)
		if err := json.Unmarshal(b, a.committed); err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		a.logger.Info().Int64("height", a.committed.Height).Msg("Restored committed state")
	}
	return a, nil
}

func (a *App) Info() (*wire.NodeInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := &wire.NodeInfo{Data: "ledgerd"}
	if a.committed != nil {
		info.LastHeight = a.committed.Height
		info.LastAppHash = a.committed.AppHash
	}
	return info, nil
}

func (a *App) InitChain(chainID string, _ []wire.ValidatorUpdate, appState []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed != nil {
		return nil, fmt.Errorf("chain already initialized at height %d", a.committed.Height)
	}
	gen, err := DecodeGenesis(appState)
	if err != nil {
		return nil, err
	}
	s := &state{ChainID: chainID, Height: 0, Accounts: gen.Accounts, Validators: gen.Validators}
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.Validators == nil {
		s.Validators = map[string]int64{}
	}
	s.AppHash = s.hash()
	if err := a.persist(s); err != nil {
		return nil, err
	}
	a.committed = s
	a.logger.Info().Str("chain", chainID).Msg("Chain initialized")
	return s.AppHash, nil
}

// CheckTx validates against committed state only. Pending transactions are
// the consensus engine's business, so two checked transfers may still
// conflict inside a block; block execution re-validates.
func (a *App) CheckTx(raw []byte) (*wire.TxResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed == nil {
		return nil, fmt.Errorf("chain not initialized")
	}
	tx, err := DecodeTx(raw)
	if err != nil {
		return &wire.TxResult{Code: CodeInvalidTx, Log: err.Error()}, nil
	}
	code, log := validateTx(a.committed, tx)
	return &wire.TxResult{Code: code, Log: log}, nil
}

func (a *App) BeginBlock(height int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed == nil {
		return fmt.Errorf("chain not initialized")
	}
	if a.working != nil {
		return fmt.Errorf("block %d is already open", a.working.Height)
	}
	if height != a.committed.Height+1 {
		return fmt.Errorf("begin block %d does not follow committed height %d", height, a.committed.Height)
	}
	a.working = a.committed.clone()
	a.working.Height = height
	a.staged = nil
	return nil
}

func (a *App) DeliverTx(raw []byte) (*wire.TxResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.working == nil {
		return nil, fmt.Errorf("no open block")
	}
	tx, err := DecodeTx(raw)
	if err != nil {
		return &wire.TxResult{Code: CodeInvalidTx, Log: err.Error()}, nil
	}
	if code, log := validateTx(a.working, tx); code != CodeOK {
		return &wire.TxResult{Code: code, Log: log}, nil
	}
	applyTx(a.working, tx)
	if tx.Type == TxBond {
		a.staged = append(a.staged, wire.ValidatorUpdate{PubKey: wire.ValidatorKey(tx.Validator), Power: tx.Power})
	}
	return &wire.TxResult{Code: CodeOK}, nil
}

func (a *App) EndBlock(height int64) ([]wire.ValidatorUpdate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.working == nil || a.working.Height != height {
		return nil, fmt.Errorf("end block %d does not match open block", height)
	}
	if a.opts.FaultHeight != 0 && height == a.opts.FaultHeight {
		// Deliberate divergence from any correct model.
		a.working.Accounts[a.opts.FaultAccount]++
		a.logger.Warn().Int64("height", height).Str("account", a.opts.FaultAccount).Msg("Injected balance fault")
	}
	return a.staged, nil
}

// WorkingHash returns the app hash the open block will commit to.
func (a *App) WorkingHash() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.working == nil {
		return nil
	}
	return a.working.hash()
}

func (a *App) Commit() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.working == nil {
		return nil, fmt.Errorf("no open block")
	}
	a.working.AppHash = a.working.hash()
	if err := a.persist(a.working); err != nil {
		return nil, err
	}
	a.committed = a.working
	a.working = nil
	a.staged = nil
	a.logger.Debug().Int64("height", a.committed.Height).Msg("Committed block")
	return a.committed.AppHash, nil
}

func (a *App) ApplyBlock(height int64, txs [][]byte) (*wire.BlockResult, error) {
	if err := a.BeginBlock(height); err != nil {
		return nil, err
	}
	result := &wire.BlockResult{Height: height}
	for _, tx := range txs {
		r, err := a.DeliverTx(tx)
		if err != nil {
			return nil, err
		}
		result.TxResults = append(result.TxResults, *r)
	}
	updates, err := a.EndBlock(height)
	if err != nil {
		return nil, err
	}
	result.ValidatorUpdates = updates
	hash, err := a.Commit()
	if err != nil {
		return nil, err
	}
	result.AppHash = hash
	return result, nil
}

func (a *App) Query(path string, _ []byte) (*wire.QueryResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed == nil {
		return nil, fmt.Errorf("chain not initialized")
	}
	switch {
	case strings.HasPrefix(path, "/balance/"):
		name := strings.TrimPrefix(path, "/balance/")
		bal, ok := a.committed.Accounts[name]
		if !ok {
			return &wire.QueryResult{Code: CodeUnknownAccount, Log: fmt.Sprintf("unknown account %q", name)}, nil
		}
		return &wire.QueryResult{Code: CodeOK, Value: []byte(strconv.FormatUint(bal, 10))}, nil

	case path == "/validators":
		b, err := json.Marshal(a.committed.Validators)
		if err != nil {
			return nil, err
		}
		return &wire.QueryResult{Code: CodeOK, Value: b}, nil

	default:
		return &wire.QueryResult{Code: CodeInvalidTx, Log: fmt.Sprintf("unknown query path %q", path)}, nil
	}
}

func (a *App) persist(s *state) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return a.store.SaveState(b)
}

func validateTx(s *state, tx *Tx) (uint32, string) {
	switch tx.Type {
	case TxTransfer:
		if tx.From == "" || tx.To == "" || tx.Amount == 0 {
			return CodeInvalidTx, "transfer requires from, to, and a positive amount"
		}
		bal, ok := s.Accounts[tx.From]
		if !ok {
			return CodeUnknownAccount, fmt.Sprintf("unknown account %q", tx.From)
		}
		if bal < tx.Amount {
			return CodeInsufficientFunds, fmt.Sprintf("balance %d < %d", bal, tx.Amount)
		}
	case TxMint:
		if tx.To == "" || tx.Amount == 0 {
			return CodeInvalidTx, "mint requires to and a positive amount"
		}
		if s.Accounts[tx.To] > math.MaxUint64-tx.Amount {
			return CodeInvalidTx, "mint overflows balance"
		}
	case TxBurn:
		if tx.From == "" || tx.Amount == 0 {
			return CodeInvalidTx, "burn requires from and a positive amount"
		}
		bal, ok := s.Accounts[tx.From]
		if !ok {
			return CodeUnknownAccount, fmt.Sprintf("unknown account %q", tx.From)
		}
		if bal < tx.Amount {
			return CodeInsufficientFunds, fmt.Sprintf("balance %d < %d", bal, tx.Amount)
		}
	case TxBond:
		if tx.Validator == "" {
			return CodeInvalidTx, "bond requires a validator name"
		}
		if tx.Power < 0 {
			return CodeInvalidTx, "voting power must be non-negative"
		}
	}
	return CodeOK, ""
}

// applyTx assumes validateTx passed against the same state.
func applyTx(s *state, tx *Tx) {
	switch tx.Type {
	case TxTransfer:
		s.Accounts[tx.From] -= tx.Amount
		s.Accounts[tx.To] += tx.Amount
	case TxMint:
		s.Accounts[tx.To] += tx.Amount
	case TxBurn:
		s.Accounts[tx.From] -= tx.Amount
	case TxBond:
		if tx.Power == 0 {
			delete(s.Validators, tx.Validator)
		} else {
			s.Validators[tx.Validator] = tx.Power
		}
	}
}
