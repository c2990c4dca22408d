// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package scenario loads declarative test scenarios and runs them to a
// verdict: a sequence of generated commands is executed in lockstep against
// the model and one or more real nodes, and the first divergence is shrunk
// to a minimal reproducible counterexample.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gitlab.com/tesseratest/tessera/internal/seqgen"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// Modes of running nodes.
const (
	ModeLocal   = "local"   // in-process application, no sockets
	ModeProcess = "process" // spawned ledgerd processes
)

// GenesisSpec is the initial chain state.
type GenesisSpec struct {
	Accounts   map[string]uint64 `yaml:"accounts"`
	Validators map[string]int64  `yaml:"validators"`
}

// PartitionSpec suspends one node for a span of commands. The suspended node
// receives nothing while partitioned; on heal it replays the blocks it missed
// and must converge to the same height and app hash as the rest.
type PartitionSpec struct {
	Node     int `yaml:"node"`     // index of the node to suspend
	At       int `yaml:"at"`       // command index at which the partition starts
	Duration int `yaml:"duration"` // number of commands the partition lasts
}

// RestartSpec kills and respawns one node at a fixed command index, so
// crash-recovery runs reproduce without relying on the generator's restart
// weight. The node's recovered height and app hash must match the model
// before traffic resumes.
type RestartSpec struct {
	Node int `yaml:"node"` // index of the node to restart
	At   int `yaml:"at"`   // command index at which the restart happens
}

// FaultSpec passes fault injection through to the nodes, for scenarios that
// prove the harness detects divergence.
type FaultSpec struct {
	Height  int64  `yaml:"height"`
	Account string `yaml:"account"`
}

// Spec is one scenario file.
type Spec struct {
	Name        string         `yaml:"name"`
	Seed        int64          `yaml:"seed"`
	MaxCommands int            `yaml:"max_commands"`
	ChainID     string         `yaml:"chain_id"`
	Flavor      string         `yaml:"flavor"`
	Mode        string         `yaml:"mode"`
	Binary      string         `yaml:"binary"`    // ledgerd binary, process mode
	Transport   string         `yaml:"transport"` // "unix" or "tcp", process mode
	Nodes       int            `yaml:"nodes"`
	TimeoutMS   int            `yaml:"timeout_ms"` // per-call bound on node operations
	Retries     int            `yaml:"retries"`
	NoShrink    bool           `yaml:"no_shrink"`
	Weights     seqgen.Weights `yaml:"weights"`
	Genesis     GenesisSpec    `yaml:"genesis"`
	Partition   *PartitionSpec `yaml:"partition"`
	Restart     *RestartSpec   `yaml:"restart"`
	Fault       FaultSpec      `yaml:"fault"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s := new(Spec)
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Validate fills defaults and rejects inconsistent specs.
func (s *Spec) Validate() error {
	if s.MaxCommands <= 0 {
		s.MaxCommands = 100
	}
	if s.ChainID == "" {
		s.ChainID = "tessera-test"
	}
	if s.Flavor == "" {
		s.Flavor = "finalize"
	}
	if _, err := wire.ParseFlavor(s.Flavor); err != nil {
		return err
	}
	if s.Mode == "" {
		if s.Binary != "" {
			s.Mode = ModeProcess
		} else {
			s.Mode = ModeLocal
		}
	}
	switch s.Mode {
	case ModeLocal:
	case ModeProcess:
		if s.Binary == "" {
			return fmt.Errorf("process mode requires a binary")
		}
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.Transport == "" {
		s.Transport = "unix"
	}
	if s.Nodes <= 0 {
		s.Nodes = 1
	}
	if len(s.Genesis.Accounts) == 0 {
		s.Genesis.Accounts = map[string]uint64{
			"alice": 250, "bob": 250, "carol": 250, "dave": 250,
		}
	}
	if len(s.Genesis.Validators) == 0 {
		s.Genesis.Validators = map[string]int64{"v1": 10, "v2": 10, "v3": 10}
	}
	if p := s.Partition; p != nil {
		if s.Nodes < 2 {
			return fmt.Errorf("a partition needs at least two nodes")
		}
		if p.Node < 0 || p.Node >= s.Nodes {
			return fmt.Errorf("partition node %d out of range", p.Node)
		}
		if p.At < 0 || p.Duration < 1 {
			return fmt.Errorf("partition needs at >= 0 and duration >= 1")
		}
	}
	if rs := s.Restart; rs != nil {
		if rs.Node < 0 || rs.Node >= s.Nodes {
			return fmt.Errorf("restart node %d out of range", rs.Node)
		}
		if rs.At < 0 {
			return fmt.Errorf("restart needs at >= 0")
		}
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries must be non-negative")
	}
	if s.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must be non-negative")
	}
	return nil
}

// WireFlavor returns the parsed flavor. Validate must have passed.
func (s *Spec) WireFlavor() wire.Flavor {
	f, err := wire.ParseFlavor(s.Flavor)
	if err != nil {
		panic(err)
	}
	return f
}

// CallTimeout returns the per-call bound on node operations, or zero for
// the transport default.
func (s *Spec) CallTimeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
