// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scenario

import (
	"context"
	"os"
	"path/filepath"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/oracle"
	"gitlab.com/tesseratest/tessera/internal/supervisor"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// node is a running node plus its lifecycle. Both implementations satisfy
// oracle.Node, so the oracle cannot tell a spawned process from an
// in-process application.
type node interface {
	oracle.Node
	Release(ctx context.Context) error
}

// processNode wraps a supervised ledgerd process.
type processNode struct {
	sup       *supervisor.Supervisor
	handle    *supervisor.NodeHandle
	transport wire.Transport
}

func newProcessNode(ctx context.Context, sup *supervisor.Supervisor) (*processNode, error) {
	h, err := sup.Spawn(ctx)
	if err != nil {
		return nil, err
	}
	t, err := h.Dial()
	if err != nil {
		_ = h.Release(ctx)
		return nil, err
	}
	return &processNode{sup: sup, handle: h, transport: t}, nil
}

func (n *processNode) Transport() wire.Transport { return n.transport }
func (n *processNode) StderrTail() string        { return n.handle.StderrTail() }

// Restart terminates the process and respawns it on the same working
// directory, so committed state must come back from disk.
func (n *processNode) Restart(ctx context.Context) error {
	_ = n.transport.Close()
	if err := n.handle.Stop(ctx); err != nil {
		return err
	}
	h, err := n.sup.Respawn(ctx, n.handle)
	if err != nil {
		return err
	}
	t, err := h.Dial()
	if err != nil {
		_ = h.Release(ctx)
		return err
	}
	n.handle, n.transport = h, t
	return nil
}

func (n *processNode) Release(ctx context.Context) error {
	_ = n.transport.Close()
	return n.handle.Release(ctx)
}

// localNode runs the ledger in-process over the Local transport. Restart
// reopens the database, which exercises the same persistence path a process
// restart does, minus the process.
type localNode struct {
	dir       string
	flavor    wire.Flavor
	opts      ledger.Options
	store     *ledger.Store
	transport wire.Transport
}

func newLocalNode(flavor wire.Flavor, opts ledger.Options) (*localNode, error) {
	dir, err := os.MkdirTemp("", "tessera-local-")
	if err != nil {
		return nil, err
	}
	n := &localNode{dir: dir, flavor: flavor, opts: opts}
	if err := n.open(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return n, nil
}

func (n *localNode) open() error {
	store, err := ledger.OpenStore(filepath.Join(n.dir, "data"))
	if err != nil {
		return err
	}
	app, err := ledger.New(store, n.opts)
	if err != nil {
		_ = store.Close()
		return err
	}
	n.store = store
	n.transport = wire.NewLocal(n.flavor, app)
	return nil
}

func (n *localNode) Transport() wire.Transport { return n.transport }
func (n *localNode) StderrTail() string        { return "" }

func (n *localNode) Restart(context.Context) error {
	if err := n.store.Close(); err != nil {
		return err
	}
	return n.open()
}

func (n *localNode) Release(context.Context) error {
	_ = n.store.Close()
	return os.RemoveAll(n.dir)
}
