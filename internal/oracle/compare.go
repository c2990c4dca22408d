// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package oracle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// Equivalent applies the per-command equivalence rules:
//
//   - transaction results compare by code (log text is informational)
//   - balances and query values compare exactly
//   - validator updates compare as sets, ignoring order
//   - app hashes compare exactly (the hash canon is deterministic)
//   - node info compares by height and app hash (the moniker is free-form)
func Equivalent(expected, observed *model.Expected) (bool, string) {
	switch {
	case expected.TxResult != nil:
		if observed.TxResult == nil {
			return false, "expected a transaction result"
		}
		if expected.TxResult.Code != observed.TxResult.Code {
			return false, fmt.Sprintf("tx code %d, want %d (%s)", observed.TxResult.Code, expected.TxResult.Code, observed.TxResult.Log)
		}

	case expected.Block != nil:
		if observed.Block == nil {
			return false, "expected a block result"
		}
		return equivalentBlocks(expected.Block, observed.Block)

	case expected.Query != nil:
		if observed.Query == nil {
			return false, "expected a query result"
		}
		if expected.Query.Code != observed.Query.Code {
			return false, fmt.Sprintf("query code %d, want %d", observed.Query.Code, expected.Query.Code)
		}
		if expected.Query.Code == 0 && !bytes.Equal(expected.Query.Value, observed.Query.Value) {
			return false, fmt.Sprintf("query value %q, want %q", observed.Query.Value, expected.Query.Value)
		}

	case expected.Info != nil:
		if observed.Info == nil {
			return false, "expected node info"
		}
		if expected.Info.LastHeight != observed.Info.LastHeight {
			return false, fmt.Sprintf("height %d, want %d", observed.Info.LastHeight, expected.Info.LastHeight)
		}
		if !bytes.Equal(expected.Info.LastAppHash, observed.Info.LastAppHash) {
			return false, fmt.Sprintf("app hash %x, want %x", observed.Info.LastAppHash, expected.Info.LastAppHash)
		}

	default:
		return false, "model produced no expectation"
	}
	return true, ""
}

func equivalentBlocks(expected, observed *wire.BlockResult) (bool, string) {
	if expected.Height != observed.Height {
		return false, fmt.Sprintf("block height %d, want %d", observed.Height, expected.Height)
	}
	if len(expected.TxResults) != len(observed.TxResults) {
		return false, fmt.Sprintf("%d tx results, want %d", len(observed.TxResults), len(expected.TxResults))
	}
	for i := range expected.TxResults {
		if expected.TxResults[i].Code != observed.TxResults[i].Code {
			return false, fmt.Sprintf("tx %d code %d, want %d (%s)", i, observed.TxResults[i].Code, expected.TxResults[i].Code, observed.TxResults[i].Log)
		}
	}
	if !validatorSetsEqual(expected.ValidatorUpdates, observed.ValidatorUpdates) {
		return false, fmt.Sprintf("validator updates %v, want %v", observed.ValidatorUpdates, expected.ValidatorUpdates)
	}
	if !bytes.Equal(expected.AppHash, observed.AppHash) {
		return false, fmt.Sprintf("app hash %x, want %x", observed.AppHash, expected.AppHash)
	}
	return true, ""
}

// validatorSetsEqual compares updates as multisets: the wire order of
// updates within one block is not part of the contract.
func validatorSetsEqual(a, b []wire.ValidatorUpdate) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[fmt.Sprintf("%s/%d", hex.EncodeToString(v.PubKey), v.Power)]++
	}
	for _, v := range b {
		key := fmt.Sprintf("%s/%d", hex.EncodeToString(v.PubKey), v.Power)
		counts[key]--
		if counts[key] < 0 {
			return false
		}
	}
	return true
}
