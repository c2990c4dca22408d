// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/oracle"
	"gitlab.com/tesseratest/tessera/internal/seqgen"
	"gitlab.com/tesseratest/tessera/internal/supervisor"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// Report is the outcome of one run, serializable for CI artifacts.
type Report struct {
	RunID          string                 `json:"run_id"`
	Name           string                 `json:"name,omitempty"`
	Seed           int64                  `json:"seed"`
	Pass           bool                   `json:"pass"`
	Commands       int                    `json:"commands"`
	FinalHeight    int64                  `json:"final_height"`
	Shrunk         bool                   `json:"shrunk,omitempty"`
	Counterexample *oracle.Counterexample `json:"counterexample,omitempty"`
	ElapsedMS      int64                  `json:"elapsed_ms"`
}

// Runner executes one scenario.
type Runner struct {
	spec    *Spec
	logger  zerolog.Logger
	metrics *Metrics
	oracle  *oracle.Oracle
}

func NewRunner(spec *Spec, logger zerolog.Logger) *Runner {
	return &Runner{
		spec:    spec,
		logger:  logger,
		metrics: NewMetrics(),
		oracle:  &oracle.Oracle{Logger: logger},
	}
}

func (r *Runner) Metrics() *Metrics { return r.metrics }

// trackedNode is a node plus its partition bookkeeping. A suspended node
// receives no commands; the blocks it misses are queued for replay on heal.
type trackedNode struct {
	node
	index     int
	suspended bool
	missed    []missedBlock
}

type missedBlock struct {
	height int64
	txs    [][]byte
}

// Run executes the scenario to completion or first divergence. Divergences
// land in the report as counterexamples; an infrastructure failure (spawn,
// wire) discards the attempt and reruns the whole scenario from genesis, a
// bounded number of times. Model errors are harness defects and abort
// immediately.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	var lastErr error
	for attempt := 0; attempt <= r.spec.Retries; attempt++ {
		if attempt > 0 {
			r.metrics.Retries.Inc()
			r.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("Retrying scenario after infrastructure failure")
		}
		report, err := r.runOnce(ctx)
		if err == nil {
			return report, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, model.ErrPrecondition) {
			break
		}
	}
	return nil, lastErr
}

func (r *Runner) runOnce(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.New().String(), Name: r.spec.Name, Seed: r.spec.Seed}

	nodes := make([]*trackedNode, r.spec.Nodes)
	defer func() {
		for _, n := range nodes {
			if n != nil {
				_ = n.Release(context.Background())
			}
		}
	}()
	g, gctx := errgroup.WithContext(ctx)
	for i := range nodes {
		i := i
		g.Go(func() error {
			n, err := r.newNode(gctx)
			if err != nil {
				return fmt.Errorf("start node %d: %w", i, err)
			}
			nodes[i] = &trackedNode{node: n, index: i}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := model.NewState(r.spec.Genesis.Accounts, r.spec.Genesis.Validators)
	genesisDoc := state.Genesis().Encode()
	for _, n := range nodes {
		hash, err := n.Transport().InitChain(ctx, r.spec.ChainID, nil, genesisDoc)
		if err != nil {
			return nil, fmt.Errorf("init chain on node %d: %w", n.index, err)
		}
		if !bytes.Equal(hash, state.AppHash) {
			return nil, fmt.Errorf("node %d genesis app hash %x, model computed %x", n.index, hash, state.AppHash)
		}
	}

	gen := seqgen.New(seqgen.Config{
		Seed:       r.spec.Seed,
		Weights:    r.spec.Weights,
		Accounts:   state.AccountNames(),
		Validators: state.ValidatorNames(),
	})

	var seq []model.Command
	for i := 0; i < r.spec.MaxCommands; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p := r.spec.Partition; p != nil {
			if i == p.At {
				nodes[p.Node].suspended = true
				r.logger.Info().Int("node", p.Node).Int("command", i).Msg("Partitioned node")
			}
			if i == p.At+p.Duration && nodes[p.Node].suspended {
				cex, err := r.heal(ctx, nodes[p.Node], state, seq)
				if err != nil {
					return nil, err
				}
				if cex != nil {
					return r.fail(ctx, report, cex, start), nil
				}
			}
		}
		if rs := r.spec.Restart; rs != nil && i == rs.At && !nodes[rs.Node].suspended {
			cex, err := r.restart(ctx, nodes[rs.Node], state, seq)
			if err != nil {
				return nil, err
			}
			if cex != nil {
				return r.fail(ctx, report, cex, start), nil
			}
		}

		cmd := gen.Next(state)
		seq = append(seq, cmd)
		next, expected, err := model.Apply(state, cmd)
		if err != nil {
			// The generator produced a command the model rejects. That is a
			// harness defect and poisons every result after it.
			return nil, err
		}

		cex, err := r.execute(ctx, nodes, state, seq, cmd, expected)
		if err != nil {
			return nil, err
		}
		if cex != nil {
			return r.fail(ctx, report, cex, start), nil
		}

		if _, isAdvance := cmd.(model.AdvanceBlock); isAdvance {
			r.metrics.Blocks.Inc()
			blk := missedBlock{height: state.Height + 1, txs: oracle.EncodeTxs(state.Pending)}
			for _, n := range nodes {
				if n.suspended {
					n.missed = append(n.missed, blk)
				}
			}
		}
		r.metrics.Commands.Inc()
		state = next
	}

	if p := r.spec.Partition; p != nil && nodes[p.Node].suspended {
		cex, err := r.heal(ctx, nodes[p.Node], state, seq)
		if err != nil {
			return nil, err
		}
		if cex != nil {
			return r.fail(ctx, report, cex, start), nil
		}
	}

	report.Pass = true
	report.Commands = len(seq)
	report.FinalHeight = state.Height
	report.ElapsedMS = time.Since(start).Milliseconds()
	r.logger.Info().Int("commands", len(seq)).Int64("height", state.Height).Msg("Scenario passed")
	return report, nil
}

// execute runs one command on every active node concurrently and compares
// each observation to the model's expectation.
func (r *Runner) execute(ctx context.Context, nodes []*trackedNode, state *model.State, seq []model.Command, cmd model.Command, expected *model.Expected) (*oracle.Counterexample, error) {
	observed := make([]*model.Expected, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		if n.suspended {
			continue
		}
		n := n
		g.Go(func() error {
			obs, err := r.oracle.Step(gctx, n, state, cmd)
			if err != nil {
				return fmt.Errorf("node %d: command %s: %w", n.index, cmd, err)
			}
			observed[n.index] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.suspended {
			continue
		}
		if ok, reason := oracle.Equivalent(expected, observed[n.index]); !ok {
			r.metrics.Divergences.Inc()
			reason = fmt.Sprintf("node %d: %s", n.index, reason)
			return oracle.NewCounterexample(seq, len(seq)-1, reason, expected, observed[n.index], state, n.StderrTail()), nil
		}
	}
	return nil, nil
}

// heal reconnects a suspended node: the blocks it missed are replayed in
// order, and its reported height and app hash must then match the model.
func (r *Runner) heal(ctx context.Context, n *trackedNode, state *model.State, seq []model.Command) (*oracle.Counterexample, error) {
	n.suspended = false
	r.logger.Info().Int("node", n.index).Int("blocks", len(n.missed)).Msg("Healing partition")
	t := n.Transport()
	for _, b := range n.missed {
		if _, err := t.ApplyBlock(ctx, b.height, b.txs); err != nil {
			return nil, fmt.Errorf("replay block %d on node %d: %w", b.height, n.index, err)
		}
	}
	n.missed = nil
	return r.checkConverged(ctx, n, state, seq, "did not converge after heal")
}

// restart kills and respawns one node at its configured command index.
// Committed state must come back from disk before traffic resumes.
func (r *Runner) restart(ctx context.Context, n *trackedNode, state *model.State, seq []model.Command) (*oracle.Counterexample, error) {
	r.logger.Info().Int("node", n.index).Int64("height", state.Height).Msg("Restarting node")
	if err := n.Restart(ctx); err != nil {
		return nil, fmt.Errorf("restart node %d: %w", n.index, err)
	}
	return r.checkConverged(ctx, n, state, seq, "did not recover after restart")
}

// checkConverged compares a node's reported height and app hash to the model.
func (r *Runner) checkConverged(ctx context.Context, n *trackedNode, state *model.State, seq []model.Command, what string) (*oracle.Counterexample, error) {
	info, err := n.Transport().Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("node %d info: %w", n.index, err)
	}
	expected := &model.Expected{Info: &wire.NodeInfo{Data: "ledgerd", LastHeight: state.Height, LastAppHash: state.AppHash}}
	observed := &model.Expected{Info: info}
	if ok, reason := oracle.Equivalent(expected, observed); !ok {
		r.metrics.Divergences.Inc()
		reason = fmt.Sprintf("node %d %s: %s", n.index, what, reason)
		idx := len(seq) - 1
		if idx < 0 {
			idx = 0
		}
		return oracle.NewCounterexample(seq, idx, reason, expected, observed, state, n.StderrTail()), nil
	}
	return nil, nil
}

func (r *Runner) fail(ctx context.Context, report *Report, cex *oracle.Counterexample, start time.Time) *Report {
	if !r.spec.NoShrink {
		if min := r.minimize(ctx, cex); min != nil {
			report.Shrunk = len(min.Commands) < len(cex.Commands)
			cex = min
		}
	}
	report.Pass = false
	report.Commands = len(cex.Commands)
	report.Counterexample = cex
	report.ElapsedMS = time.Since(start).Milliseconds()
	r.logger.Error().Str("reason", cex.Reason).Int("commands", len(cex.Commands)).Msg("Scenario failed")
	return report
}

// minimize greedily replays reduced candidates on fresh nodes and adopts any
// candidate that still diverges, restarting the series from the shorter
// sequence. The result is minimal with respect to the shrinking steps, not
// globally minimal.
func (r *Runner) minimize(ctx context.Context, cex *oracle.Counterexample) *oracle.Counterexample {
	best := cex
	cands := seqgen.Shrink(cex.Commands)
	for {
		cand, ok := cands.Next()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c, err := r.replay(ctx, cand)
		if err != nil {
			// Candidate preconditions no longer hold, or infrastructure
			// trouble. Inconclusive either way; move on.
			continue
		}
		if c != nil {
			best = c
			cands = seqgen.Shrink(cand)
		}
	}
	return best
}

// replay runs a candidate sequence against one fresh node. A nil
// counterexample means the candidate passed.
func (r *Runner) replay(ctx context.Context, seq []model.Command) (*oracle.Counterexample, error) {
	n, err := r.newNode(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = n.Release(context.Background()) }()

	state := model.NewState(r.spec.Genesis.Accounts, r.spec.Genesis.Validators)
	if _, err := n.Transport().InitChain(ctx, r.spec.ChainID, nil, state.Genesis().Encode()); err != nil {
		return nil, err
	}
	_, cex, err := r.oracle.RunSequence(ctx, n, state, seq)
	if err != nil {
		return nil, err
	}
	return cex, nil
}

func (r *Runner) newNode(ctx context.Context) (node, error) {
	switch r.spec.Mode {
	case ModeProcess:
		return newProcessNode(ctx, supervisor.New(r.supervisorOptions()))
	default:
		return newLocalNode(r.spec.WireFlavor(), ledger.Options{
			Logger:       r.logger,
			FaultHeight:  r.spec.Fault.Height,
			FaultAccount: r.spec.Fault.Account,
		})
	}
}

// supervisorOptions maps the scenario onto one node's process supervision,
// including the per-call timeout every dialed transport inherits.
func (r *Runner) supervisorOptions() supervisor.Options {
	return supervisor.Options{
		Binary:       r.spec.Binary,
		Flavor:       r.spec.WireFlavor(),
		Transport:    r.spec.Transport,
		ChainID:      r.spec.ChainID,
		CallTimeout:  r.spec.CallTimeout(),
		Logger:       r.logger,
		FaultHeight:  r.spec.Fault.Height,
		FaultAccount: r.spec.Fault.Account,
	}
}
