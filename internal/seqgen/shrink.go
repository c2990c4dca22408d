// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package seqgen

import "gitlab.com/tesseratest/tessera/internal/model"

// Candidates is a lazy, finite, restartable series of reduced command
// sequences, ordered from most reduced to least:
//
//  1. chunk removal, halving chunk sizes down to single commands
//  2. numeric-argument shrinking toward the boundary value 1
//
// Candidates never invents commands, so every candidate is at most as long
// as the original.
type Candidates struct {
	seq []model.Command

	stage     int // 0 = chunk removal, 1 = amount shrinking
	chunkSize int
	offset    int
	idx       int // amount-shrinking cursor
	half      bool
}

// Shrink starts a candidate series for a failing sequence.
func Shrink(seq []model.Command) *Candidates {
	c := &Candidates{seq: seq}
	c.Reset()
	return c
}

// Reset rewinds the series to its first candidate.
func (c *Candidates) Reset() {
	c.stage = 0
	c.chunkSize = len(c.seq) / 2
	if c.chunkSize == 0 {
		c.chunkSize = 1
	}
	c.offset = 0
	c.idx = 0
	c.half = false
}

// Next returns the next candidate, or ok=false when the series is
// exhausted. The returned slice shares no structure with the original.
func (c *Candidates) Next() ([]model.Command, bool) {
	for c.stage == 0 {
		if len(c.seq) == 0 {
			c.stage = 1
			break
		}
		if c.offset+c.chunkSize > len(c.seq) {
			if c.chunkSize == 1 {
				c.stage = 1
				break
			}
			c.chunkSize /= 2
			c.offset = 0
			continue
		}
		out := make([]model.Command, 0, len(c.seq)-c.chunkSize)
		out = append(out, c.seq[:c.offset]...)
		out = append(out, c.seq[c.offset+c.chunkSize:]...)
		c.offset += c.chunkSize
		return out, true
	}

	for c.idx < len(c.seq) {
		pos, half := c.idx, c.half
		if half {
			c.half = false
			c.idx++
		} else {
			c.half = true
		}
		shrunk, ok := shrinkCommand(c.seq[pos], half)
		if !ok {
			continue
		}
		out := append([]model.Command(nil), c.seq...)
		out[pos] = shrunk
		return out, true
	}
	return nil, false
}

// shrinkCommand reduces a command's numeric argument: first to the boundary
// value 1, then to half.
func shrinkCommand(cmd model.Command, half bool) (model.Command, bool) {
	reduce := func(amount uint64) (uint64, bool) {
		if amount <= 1 {
			return 0, false
		}
		if half {
			return amount / 2, amount/2 > 1
		}
		return 1, true
	}
	switch c := cmd.(type) {
	case model.SubmitTransfer:
		if v, ok := reduce(c.Amount); ok {
			c.Amount = v
			return c, true
		}
	case model.SubmitMint:
		if v, ok := reduce(c.Amount); ok {
			c.Amount = v
			return c, true
		}
	case model.SubmitBurn:
		if v, ok := reduce(c.Amount); ok {
			c.Amount = v
			return c, true
		}
	case model.SubmitBond:
		if c.Power > 0 {
			if half {
				if c.Power/2 > 0 {
					c.Power /= 2
					return c, true
				}
			} else {
				c.Power = 0
				return c, true
			}
		}
	}
	return nil, false
}
