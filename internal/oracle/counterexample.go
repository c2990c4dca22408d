// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package oracle

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"gitlab.com/tesseratest/tessera/internal/model"
)

// Counterexample records a divergence between the model and the node: the
// full command sequence, the index of the failing command, both responses,
// and the model state the command ran against. Commands keeps the typed
// sequence for shrinking; Rendered is the human-readable transcript.
type Counterexample struct {
	Commands []model.Command `json:"-"`
	Rendered []string        `json:"commands"`
	Index    int             `json:"index"`
	Reason   string          `json:"reason"`
	Expected *model.Expected `json:"expected"`
	Observed *model.Expected `json:"observed"`
	State    *model.State    `json:"state"`
	Stderr   string          `json:"stderr,omitempty"`
}

func NewCounterexample(seq []model.Command, i int, reason string, expected, observed *model.Expected, state *model.State, stderr string) *Counterexample {
	rendered := make([]string, len(seq))
	for j, cmd := range seq {
		rendered[j] = cmd.String()
	}
	return &Counterexample{
		Commands: seq,
		Rendered: rendered,
		Index:    i,
		Reason:   reason,
		Expected: expected,
		Observed: observed,
		State:    state,
		Stderr:   stderr,
	}
}

func (c *Counterexample) Error() string {
	return fmt.Sprintf("command %d (%s): %s", c.Index, c.Rendered[c.Index], c.Reason)
}

// Dump renders the full failure report for a human, including the typed
// expected and observed responses.
func (c *Counterexample) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "divergence at command %d: %s\n\n", c.Index, c.Reason)
	b.WriteString("sequence:\n")
	for j, s := range c.Rendered {
		marker := "  "
		if j == c.Index {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%3d  %s\n", marker, j, s)
	}
	b.WriteString("\nexpected:\n")
	b.WriteString(spew.Sdump(c.Expected))
	b.WriteString("\nobserved:\n")
	b.WriteString(spew.Sdump(c.Observed))
	b.WriteString("\nmodel state before command:\n")
	b.WriteString(spew.Sdump(c.State))
	if c.Stderr != "" {
		b.WriteString("\nnode stderr tail:\n")
		b.WriteString(c.Stderr)
		if !strings.HasSuffix(c.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
