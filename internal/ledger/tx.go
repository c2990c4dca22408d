// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"encoding/json"
	"fmt"
)

// Result codes shared by CheckTx and block execution. The model predicts
// these codes exactly, so they are part of the protocol contract, not an
// implementation detail.
const (
	CodeOK                uint32 = 0
	CodeInvalidTx         uint32 = 1
	CodeInsufficientFunds uint32 = 2
	CodeUnknownAccount    uint32 = 3
)

// Transaction kinds.
const (
	TxTransfer = "transfer"
	TxMint     = "mint"
	TxBurn     = "burn"
	TxBond     = "bond"
)

// Tx is the ledger's wire transaction format. JSON keeps the harness's
// counterexample dumps directly readable.
type Tx struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Validator string `json:"validator,omitempty"`
	Power     int64  `json:"power,omitempty"`
}

func (tx *Tx) Encode() []byte {
	b, err := json.Marshal(tx)
	if err != nil {
		// Tx has no unmarshalable fields
		panic(err)
	}
	return b
}

func DecodeTx(b []byte) (*Tx, error) {
	tx := new(Tx)
	if err := json.Unmarshal(b, tx); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	switch tx.Type {
	case TxTransfer, TxMint, TxBurn, TxBond:
		return tx, nil
	default:
		return nil, fmt.Errorf("unknown tx type %q", tx.Type)
	}
}

// Genesis is the app-state document passed through InitChain.
type Genesis struct {
	Accounts   map[string]uint64 `json:"accounts"`
	Validators map[string]int64  `json:"validators"`
}

func (g *Genesis) Encode() []byte {
	b, err := json.Marshal(g)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeGenesis(b []byte) (*Genesis, error) {
	g := new(Genesis)
	if err := json.Unmarshal(b, g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return g, nil
}
