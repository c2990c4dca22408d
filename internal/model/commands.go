// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package model

import (
	"fmt"
	"math"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// Command is an abstract operation with a precondition over the model state,
// a pure transition, and a predicted observable response. A command whose
// precondition fails must never be applied; seeing ErrPrecondition during a
// run means the generator is broken, not the node.
type Command interface {
	fmt.Stringer

	// Pre reports whether the command may be generated against s.
	Pre(s *State) bool

	// Apply returns the next state and the response the node is expected to
	// produce. It never mutates s.
	Apply(s *State) (*State, *Expected, error)
}

// ErrPrecondition is a harness defect: a command was applied to a state its
// precondition rejects. It is fatal to the whole run and never retried.
var ErrPrecondition = fmt.Errorf("model: command precondition violated")

// Expected is the model-predicted observable for one command. Exactly one
// field is set, matching the command's response kind.
type Expected struct {
	TxResult *wire.TxResult    `json:",omitempty"`
	Block    *wire.BlockResult `json:",omitempty"`
	Query    *wire.QueryResult `json:",omitempty"`
	Info     *wire.NodeInfo    `json:",omitempty"`
}

// SubmitTransfer moves Amount from one committed account to another. The
// transfer is checked now and takes effect at the next AdvanceBlock.
type SubmitTransfer struct {
	From   string
	To     string
	Amount uint64
}

func (c SubmitTransfer) String() string {
	return fmt.Sprintf("SubmitTransfer{%s->%s, %d}", c.From, c.To, c.Amount)
}

func (c SubmitTransfer) Tx() *ledger.Tx {
	return &ledger.Tx{Type: ledger.TxTransfer, From: c.From, To: c.To, Amount: c.Amount}
}

func (c SubmitTransfer) Pre(s *State) bool {
	bal, ok := s.Accounts[c.From]
	return ok && c.To != "" && c.From != c.To && c.Amount >= 1 && c.Amount <= bal
}

func (c SubmitTransfer) Apply(s *State) (*State, *Expected, error) {
	return applySubmit(s, c.Tx())
}

// SubmitMint credits new supply to an account.
type SubmitMint struct {
	To     string
	Amount uint64
}

func (c SubmitMint) String() string {
	return fmt.Sprintf("SubmitMint{%s, %d}", c.To, c.Amount)
}

func (c SubmitMint) Tx() *ledger.Tx {
	return &ledger.Tx{Type: ledger.TxMint, To: c.To, Amount: c.Amount}
}

func (c SubmitMint) Pre(s *State) bool {
	return c.To != "" && c.Amount >= 1 && s.Accounts[c.To] <= math.MaxUint64-c.Amount
}

func (c SubmitMint) Apply(s *State) (*State, *Expected, error) {
	return applySubmit(s, c.Tx())
}

// SubmitBurn destroys part of an account's balance.
type SubmitBurn struct {
	From   string
	Amount uint64
}

func (c SubmitBurn) String() string {
	return fmt.Sprintf("SubmitBurn{%s, %d}", c.From, c.Amount)
}

func (c SubmitBurn) Tx() *ledger.Tx {
	return &ledger.Tx{Type: ledger.TxBurn, From: c.From, Amount: c.Amount}
}

func (c SubmitBurn) Pre(s *State) bool {
	bal, ok := s.Accounts[c.From]
	return ok && c.Amount >= 1 && c.Amount <= bal
}

func (c SubmitBurn) Apply(s *State) (*State, *Expected, error) {
	return applySubmit(s, c.Tx())
}

// SubmitBond sets a validator's voting power; zero power removes it. The
// change surfaces as a validator update at the next AdvanceBlock.
type SubmitBond struct {
	Validator string
	Power     int64
}

func (c SubmitBond) String() string {
	return fmt.Sprintf("SubmitBond{%s, %d}", c.Validator, c.Power)
}

func (c SubmitBond) Tx() *ledger.Tx {
	return &ledger.Tx{Type: ledger.TxBond, Validator: c.Validator, Power: c.Power}
}

func (c SubmitBond) Pre(s *State) bool {
	return c.Validator != "" && c.Power >= 0
}

func (c SubmitBond) Apply(s *State) (*State, *Expected, error) {
	return applySubmit(s, c.Tx())
}

// AdvanceBlock executes one block containing all pending transactions.
type AdvanceBlock struct{}

func (AdvanceBlock) String() string { return "AdvanceBlock" }

func (AdvanceBlock) Pre(*State) bool { return true }

func (AdvanceBlock) Apply(s *State) (*State, *Expected, error) {
	next := s.clone()
	next.Height = s.Height + 1
	next.Pending = nil

	block := &wire.BlockResult{Height: next.Height}
	for _, tx := range s.Pending {
		code, _ := predictCode(next, tx)
		block.TxResults = append(block.TxResults, wire.TxResult{Code: code})
		if code != ledger.CodeOK {
			continue
		}
		applyTx(next, tx)
		if tx.Type == ledger.TxBond {
			block.ValidatorUpdates = append(block.ValidatorUpdates, wire.ValidatorUpdate{
				PubKey: wire.ValidatorKey(tx.Validator),
				Power:  tx.Power,
			})
		}
	}
	next.AppHash = next.Hash()
	block.AppHash = next.AppHash
	return next, &Expected{Block: block}, nil
}

// QueryBalance reads a committed account balance.
type QueryBalance struct {
	Account string
}

func (c QueryBalance) String() string { return fmt.Sprintf("QueryBalance{%s}", c.Account) }

func (c QueryBalance) Pre(s *State) bool {
	_, ok := s.Accounts[c.Account]
	return ok
}

func (c QueryBalance) Apply(s *State) (*State, *Expected, error) {
	if !c.Pre(s) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPrecondition, c)
	}
	return s, &Expected{Query: &wire.QueryResult{
		Code:  ledger.CodeOK,
		Value: []byte(fmt.Sprintf("%d", s.Accounts[c.Account])),
	}}, nil
}

// QueryInfo reads the node's reported height and app hash.
type QueryInfo struct{}

func (QueryInfo) String() string { return "QueryInfo" }

func (QueryInfo) Pre(*State) bool { return true }

func (QueryInfo) Apply(s *State) (*State, *Expected, error) {
	return s, &Expected{Info: &wire.NodeInfo{Data: "ledgerd", LastHeight: s.Height, LastAppHash: s.AppHash}}, nil
}

// RestartNode kills and respawns the node. Committed state must survive;
// the pending queue is the harness's and carries over.
type RestartNode struct{}

func (RestartNode) String() string { return "RestartNode" }

func (RestartNode) Pre(*State) bool { return true }

func (RestartNode) Apply(s *State) (*State, *Expected, error) {
	return s, &Expected{Info: &wire.NodeInfo{Data: "ledgerd", LastHeight: s.Height, LastAppHash: s.AppHash}}, nil
}

func applySubmit(s *State, tx *ledger.Tx) (*State, *Expected, error) {
	code, log := predictCode(s, tx)
	expected := &Expected{TxResult: &wire.TxResult{Code: code, Log: log}}
	if code != ledger.CodeOK {
		// Rejected by CheckTx; the harness does not queue it.
		return s, expected, nil
	}
	next := s.clone()
	next.Pending = append(next.Pending, tx)
	return next, expected, nil
}

// predictCode mirrors the protocol contract for transaction validity. The
// log text is not part of the contract, only the code is; predicted logs are
// empty and the comparator ignores them.
func predictCode(s *State, tx *ledger.Tx) (uint32, string) {
	switch tx.Type {
	case ledger.TxTransfer:
		if tx.From == "" || tx.To == "" || tx.Amount == 0 {
			return ledger.CodeInvalidTx, ""
		}
		bal, ok := s.Accounts[tx.From]
		if !ok {
			return ledger.CodeUnknownAccount, ""
		}
		if bal < tx.Amount {
			return ledger.CodeInsufficientFunds, ""
		}
	case ledger.TxMint:
		if tx.To == "" || tx.Amount == 0 {
			return ledger.CodeInvalidTx, ""
		}
		if s.Accounts[tx.To] > math.MaxUint64-tx.Amount {
			return ledger.CodeInvalidTx, ""
		}
	case ledger.TxBurn:
		if tx.From == "" || tx.Amount == 0 {
			return ledger.CodeInvalidTx, ""
		}
		bal, ok := s.Accounts[tx.From]
		if !ok {
			return ledger.CodeUnknownAccount, ""
		}
		if bal < tx.Amount {
			return ledger.CodeInsufficientFunds, ""
		}
	case ledger.TxBond:
		if tx.Validator == "" || tx.Power < 0 {
			return ledger.CodeInvalidTx, ""
		}
	default:
		return ledger.CodeInvalidTx, ""
	}
	return ledger.CodeOK, ""
}

func applyTx(s *State, tx *ledger.Tx) {
	switch tx.Type {
	case ledger.TxTransfer:
		s.Accounts[tx.From] -= tx.Amount
		s.Accounts[tx.To] += tx.Amount
	case ledger.TxMint:
		s.Accounts[tx.To] += tx.Amount
	case ledger.TxBurn:
		s.Accounts[tx.From] -= tx.Amount
	case ledger.TxBond:
		if tx.Power == 0 {
			delete(s.Validators, tx.Validator)
		} else {
			s.Validators[tx.Validator] = tx.Power
		}
	}
}

// Apply checks the precondition and applies the command. Library entry
// point used by the oracle; commands applied through it can never leave the
// state half-transitioned.
func Apply(s *State, cmd Command) (*State, *Expected, error) {
	if !cmd.Pre(s) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPrecondition, cmd)
	}
	return cmd.Apply(s)
}
