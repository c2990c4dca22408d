// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package seqgen generates and shrinks command sequences. Generation is a
// pure function of the seed and the model state it is offered, so any
// failure is reproducible from its seed alone.
package seqgen

import (
	"math"
	"math/rand"

	"gitlab.com/tesseratest/tessera/internal/model"
)

// Command kind names, used as weight-table keys in scenario specs.
const (
	KindTransfer     = "transfer"
	KindMint         = "mint"
	KindBurn         = "burn"
	KindBond         = "bond"
	KindAdvance      = "advance"
	KindQueryBalance = "query_balance"
	KindQueryInfo    = "query_info"
	KindRestart      = "restart"
)

// Weights maps command kinds to relative generation weight. Kinds with zero
// or missing weight are never generated.
type Weights map[string]int

// DefaultWeights favors state-changing traffic with occasional reads and
// restarts.
func DefaultWeights() Weights {
	return Weights{
		KindTransfer:     8,
		KindMint:         2,
		KindBurn:         2,
		KindBond:         2,
		KindAdvance:      6,
		KindQueryBalance: 3,
		KindQueryInfo:    1,
		KindRestart:      1,
	}
}

// Config bounds generation. Accounts and Validators are the name universes
// for newly created accounts and validators; existing names come from the
// state itself.
type Config struct {
	Seed       int64
	Weights    Weights
	Accounts   []string
	Validators []string
	MaxAmount  uint64
	MaxPower   int64
}

// Generator produces one command at a time. Given the same seed and the
// same succession of states, it reproduces the identical command sequence.
type Generator struct {
	rng *rand.Rand
	cfg Config
}

func New(cfg Config) *Generator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []string{"alice", "bob", "carol", "dave"}
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = []string{"v1", "v2", "v3"}
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = 1000
	}
	if cfg.MaxPower == 0 {
		cfg.MaxPower = 100
	}
	return &Generator{rng: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
}

// Next picks a command whose precondition holds against s. It always
// succeeds: AdvanceBlock and QueryInfo have no precondition, so at least one
// kind is eligible whenever its weight is positive; with a fully zeroed
// weight table Next falls back to AdvanceBlock.
func (g *Generator) Next(s *model.State) model.Command {
	type pick struct {
		kind   string
		weight int
	}
	var picks []pick
	total := 0
	for _, kind := range []string{
		KindTransfer, KindMint, KindBurn, KindBond,
		KindAdvance, KindQueryBalance, KindQueryInfo, KindRestart,
	} {
		w := g.cfg.Weights[kind]
		if w <= 0 || !g.eligible(kind, s) {
			continue
		}
		picks = append(picks, pick{kind, w})
		total += w
	}
	if total == 0 {
		return model.AdvanceBlock{}
	}

	n := g.rng.Intn(total)
	for _, p := range picks {
		if n < p.weight {
			return g.build(p.kind, s)
		}
		n -= p.weight
	}
	panic("unreachable")
}

// eligible reports whether some command of the kind can satisfy its
// precondition against s.
func (g *Generator) eligible(kind string, s *model.State) bool {
	switch kind {
	case KindTransfer, KindBurn:
		for _, bal := range s.Accounts {
			if bal >= 1 {
				return true
			}
		}
		return false
	case KindQueryBalance:
		return len(s.Accounts) > 0
	default:
		return true
	}
}

func (g *Generator) build(kind string, s *model.State) model.Command {
	switch kind {
	case KindTransfer:
		from, bal := g.pickFunded(s)
		to := g.pickName(g.cfg.Accounts, from)
		return model.SubmitTransfer{From: from, To: to, Amount: g.pickAmount(bal)}
	case KindMint:
		return model.SubmitMint{To: g.pickName(g.cfg.Accounts, ""), Amount: g.pickAmount(g.cfg.MaxAmount)}
	case KindBurn:
		from, bal := g.pickFunded(s)
		return model.SubmitBurn{From: from, Amount: g.pickAmount(bal)}
	case KindBond:
		return model.SubmitBond{Validator: g.pickName(g.cfg.Validators, ""), Power: g.rng.Int63n(g.cfg.MaxPower + 1)}
	case KindAdvance:
		return model.AdvanceBlock{}
	case KindQueryBalance:
		names := s.AccountNames()
		return model.QueryBalance{Account: names[g.rng.Intn(len(names))]}
	case KindQueryInfo:
		return model.QueryInfo{}
	case KindRestart:
		return model.RestartNode{}
	default:
		return model.AdvanceBlock{}
	}
}

// pickFunded picks an account with a positive balance, deterministically.
// Only called when one exists.
func (g *Generator) pickFunded(s *model.State) (string, uint64) {
	names := s.AccountNames()
	var funded []string
	for _, name := range names {
		if s.Accounts[name] >= 1 {
			funded = append(funded, name)
		}
	}
	name := funded[g.rng.Intn(len(funded))]
	return name, s.Accounts[name]
}

// pickName picks from the universe, avoiding `not` when another choice
// exists.
func (g *Generator) pickName(universe []string, not string) string {
	name := universe[g.rng.Intn(len(universe))]
	if name != not {
		return name
	}
	for _, alt := range universe {
		if alt != not {
			return alt
		}
	}
	return name
}

func (g *Generator) pickAmount(max uint64) uint64 {
	if max > g.cfg.MaxAmount {
		max = g.cfg.MaxAmount
	}
	// Int63n takes an int64; a bound past MaxInt64 would go negative.
	if max > math.MaxInt64 {
		max = math.MaxInt64
	}
	return 1 + uint64(g.rng.Int63n(int64(max)))
}
