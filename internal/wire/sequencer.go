// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package wire

import "fmt"

type blockPhase int

const (
	phaseIdle blockPhase = iota
	phaseBegun
	phaseEnded
)

// Sequencer enforces the per-height call order BeginBlock, zero or more
// DeliverTx, EndBlock, Commit. Transports consult it before putting anything
// on the wire so an out-of-order call fails fast with ErrProtocolViolation
// instead of desynchronizing the stream.
type Sequencer struct {
	phase     blockPhase
	height    int64
	committed int64
}

// NewSequencer returns a sequencer whose last committed height is h.
func NewSequencer(h int64) *Sequencer {
	return &Sequencer{committed: h}
}

// Committed returns the last committed height.
func (s *Sequencer) Committed() int64 { return s.committed }

func (s *Sequencer) BeginBlock(height int64) error {
	if s.phase != phaseIdle {
		return fmt.Errorf("%w: BeginBlock(%d) while block %d is open", ErrProtocolViolation, height, s.height)
	}
	if height != s.committed+1 {
		return fmt.Errorf("%w: BeginBlock(%d) after commit of %d", ErrProtocolViolation, height, s.committed)
	}
	s.phase = phaseBegun
	s.height = height
	return nil
}

func (s *Sequencer) DeliverTx() error {
	if s.phase != phaseBegun {
		return fmt.Errorf("%w: DeliverTx outside an open block", ErrProtocolViolation)
	}
	return nil
}

func (s *Sequencer) EndBlock(height int64) error {
	if s.phase != phaseBegun {
		return fmt.Errorf("%w: EndBlock(%d) outside an open block", ErrProtocolViolation, height)
	}
	if height != s.height {
		return fmt.Errorf("%w: EndBlock(%d) does not match open block %d", ErrProtocolViolation, height, s.height)
	}
	s.phase = phaseEnded
	return nil
}

func (s *Sequencer) Commit() error {
	if s.phase != phaseEnded {
		return fmt.Errorf("%w: Commit before EndBlock", ErrProtocolViolation)
	}
	s.phase = phaseIdle
	s.committed = s.height
	return nil
}
