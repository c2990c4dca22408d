// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"
)

var stateKey = []byte("ledger/state")

// Store persists the committed ledger state. One badger database per node
// working directory; the committed state is written atomically per commit so
// a killed node restarts from its last commit.
type Store struct {
	db *badger.DB
}

func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveState(b []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, b)
	})
}

// LoadState returns the committed state, or ok=false for a fresh store.
func (s *Store) LoadState() (b []byte, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b, err = item.ValueCopy(nil)
		ok = err == nil
		return err
	})
	return b, ok, err
}

func (s *Store) Close() error { return s.db.Close() }
