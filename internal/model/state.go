// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package model is the abstract state machine the real node is checked
// against. It is a deliberately independent implementation of the ledger's
// observable semantics: states are immutable-by-replacement, transitions are
// pure, and every predicted response is computed without consulting the node.
package model

import (
	"crypto/sha256"
	"encoding/json"
	"sort"

	"gitlab.com/tesseratest/tessera/internal/ledger"
)

// State is the model's view of the node after a command sequence. Accounts
// and Validators reflect committed state only; Pending holds transactions
// accepted by CheckTx but not yet included in a block (the harness plays the
// consensus engine and owns the mempool, so Pending survives node restarts).
type State struct {
	Height     int64
	Accounts   map[string]uint64
	Validators map[string]int64
	Pending    []*ledger.Tx
	AppHash    []byte
}

// NewState builds the genesis model state and its app hash.
func NewState(accounts map[string]uint64, validators map[string]int64) *State {
	s := &State{
		Accounts:   map[string]uint64{},
		Validators: map[string]int64{},
	}
	for k, v := range accounts {
		s.Accounts[k] = v
	}
	for k, v := range validators {
		s.Validators[k] = v
	}
	s.AppHash = s.Hash()
	return s
}

// Genesis returns the app-state document matching this state, for InitChain.
func (s *State) Genesis() *ledger.Genesis {
	return &ledger.Genesis{Accounts: s.Accounts, Validators: s.Validators}
}

func (s *State) clone() *State {
	c := &State{Height: s.Height, AppHash: s.AppHash}
	c.Accounts = make(map[string]uint64, len(s.Accounts))
	for k, v := range s.Accounts {
		c.Accounts[k] = v
	}
	c.Validators = make(map[string]int64, len(s.Validators))
	for k, v := range s.Validators {
		c.Validators[k] = v
	}
	c.Pending = append([]*ledger.Tx(nil), s.Pending...)
	return c
}

// Hash computes the canonical app hash for this state: SHA-256 over the
// JSON encoding of height, accounts, and validators, with JSON's sorted map
// keys as the canonical ordering. This mirrors the protocol contract, not
// the ledger's code.
func (s *State) Hash() []byte {
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

// TotalSupply sums all account balances. Conserved by transfers, changed
// only by mint and burn.
func (s *State) TotalSupply() uint64 {
	var total uint64
	for _, v := range s.Accounts {
		total += v
	}
	return total
}

// AccountNames returns the committed account names in deterministic order.
func (s *State) AccountNames() []string {
	names := make([]string, 0, len(s.Accounts))
	for name := range s.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatorNames returns the validator names in deterministic order.
func (s *State) ValidatorNames() []string {
	names := make([]string, 0, len(s.Validators))
	for name := range s.Validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
