// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package wire drives an ABCI application over its consensus-facing socket
// protocol.
//
// # Block processing
//
// A block is processed in the following phases, in order, once per height:
//
//   - BeginBlock
//   - [DeliverTx]
//   - EndBlock
//   - Commit
//
// The legacy wire revision issues one framed call per phase; the finalize
// revision folds the first three into a single FinalizeBlock call. Both are
// exposed through [Transport], selected once per run via [Flavor] and never
// mixed within a run.
package wire

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Flavor selects one of the two supported wire revisions.
type Flavor int

const (
	// FlavorLegacy is the v0.34-era revision: BeginBlock, DeliverTx,
	// EndBlock and Commit are separate framed calls.
	FlavorLegacy Flavor = iota + 1

	// FlavorFinalize is the ABCI 2.0 revision: the block group is a single
	// FinalizeBlock call and Commit no longer carries the app hash.
	FlavorFinalize
)

func (f Flavor) String() string {
	switch f {
	case FlavorLegacy:
		return "legacy"
	case FlavorFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("Flavor(%d)", int(f))
	}
}

// ParseFlavor parses the scenario-config spelling of a flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch s {
	case "legacy":
		return FlavorLegacy, nil
	case "finalize", "abci++":
		return FlavorFinalize, nil
	default:
		return 0, fmt.Errorf("unknown wire flavor %q", s)
	}
}

// TxResult is the outcome of a single transaction, from CheckTx or from
// block execution.
type TxResult struct {
	Code uint32
	Log  string
}

func (r *TxResult) OK() bool { return r.Code == 0 }

// ValidatorUpdate is a validator power change as it appears on the wire.
type ValidatorUpdate struct {
	PubKey []byte
	Power  int64
}

// ValidatorKey derives the conformance-profile ed25519 public key for a named
// validator. The reference ledger and the model derive keys the same way so
// updates can be compared without an out-of-band key registry.
func ValidatorKey(name string) []byte {
	sum := sha256.Sum256([]byte("tessera/validator/" + name))
	return sum[:]
}

// BlockResult is the flavor-normalized outcome of applying one block.
type BlockResult struct {
	Height           int64
	TxResults        []TxResult
	ValidatorUpdates []ValidatorUpdate
	AppHash          []byte
}

// NodeInfo is the flavor-normalized Info response.
type NodeInfo struct {
	Data        string
	LastHeight  int64
	LastAppHash []byte
}

// QueryResult is the flavor-normalized Query response.
type QueryResult struct {
	Code  uint32
	Value []byte
	Log   string
}

// Transport issues consensus-facing calls against a single node. Calls must
// not be issued concurrently: the underlying channel is a single ordered
// stream and responses are matched to requests by position.
type Transport interface {
	Flavor() Flavor

	Echo(ctx context.Context, msg string) (string, error)
	Info(ctx context.Context) (*NodeInfo, error)
	InitChain(ctx context.Context, chainID string, validators []ValidatorUpdate, appState []byte) ([]byte, error)
	CheckTx(ctx context.Context, tx []byte) (*TxResult, error)
	ApplyBlock(ctx context.Context, height int64, txs [][]byte) (*BlockResult, error)
	Query(ctx context.Context, path string, data []byte) (*QueryResult, error)

	Close() error
}

// Application is the in-process face of a node, used by the Local transport
// and implemented by the reference ledger.
type Application interface {
	Info() (*NodeInfo, error)
	InitChain(chainID string, validators []ValidatorUpdate, appState []byte) ([]byte, error)
	CheckTx(tx []byte) (*TxResult, error)
	ApplyBlock(height int64, txs [][]byte) (*BlockResult, error)
	Query(path string, data []byte) (*QueryResult, error)
}
