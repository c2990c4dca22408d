// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/tesseratest/tessera/internal/logging"
)

// The scenario's timeout_ms is a per-call bound: it must reach the
// supervisor, whose handles stamp it on every dialed transport.
func TestCallTimeoutReachesSupervisor(t *testing.T) {
	spec := &Spec{Binary: "./ledgerd", TimeoutMS: 250}
	require.NoError(t, spec.Validate())
	require.Equal(t, 250*time.Millisecond, spec.CallTimeout())

	r := NewRunner(spec, logging.NewTestLogger(t))
	opts := r.supervisorOptions()
	require.Equal(t, 250*time.Millisecond, opts.CallTimeout)
	require.Equal(t, spec.Binary, opts.Binary)
	require.Equal(t, spec.Transport, opts.Transport)
	require.Equal(t, spec.ChainID, opts.ChainID)
}
