// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"gitlab.com/tesseratest/tessera/internal/logging"
	"gitlab.com/tesseratest/tessera/internal/model"
	"gitlab.com/tesseratest/tessera/internal/scenario"
	"gitlab.com/tesseratest/tessera/internal/seqgen"
)

func TestSpecDefaults(t *testing.T) {
	s := &scenario.Spec{}
	require.NoError(t, s.Validate())
	require.Equal(t, 100, s.MaxCommands)
	require.Equal(t, "tessera-test", s.ChainID)
	require.Equal(t, scenario.ModeLocal, s.Mode)
	require.Equal(t, 1, s.Nodes)
	require.NotEmpty(t, s.Genesis.Accounts)
	require.NotEmpty(t, s.Genesis.Validators)

	s = &scenario.Spec{Binary: "./ledgerd"}
	require.NoError(t, s.Validate())
	require.Equal(t, scenario.ModeProcess, s.Mode)
	require.Equal(t, "unix", s.Transport)
}

func TestSpecRejectsInconsistency(t *testing.T) {
	require.Error(t, (&scenario.Spec{Flavor: "v9"}).Validate())
	require.Error(t, (&scenario.Spec{Mode: scenario.ModeProcess}).Validate())
	require.Error(t, (&scenario.Spec{Mode: "container"}).Validate())
	require.Error(t, (&scenario.Spec{
		Partition: &scenario.PartitionSpec{Node: 0, At: 0, Duration: 5},
	}).Validate())
	require.Error(t, (&scenario.Spec{
		Nodes:     2,
		Partition: &scenario.PartitionSpec{Node: 5, At: 0, Duration: 5},
	}).Validate())
	require.Error(t, (&scenario.Spec{
		Restart: &scenario.RestartSpec{Node: 1, At: 0},
	}).Validate())
	require.Error(t, (&scenario.Spec{
		Restart: &scenario.RestartSpec{Node: 0, At: -1},
	}).Validate())
	require.Error(t, (&scenario.Spec{TimeoutMS: -5}).Validate())
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: smoke
seed: 7
max_commands: 25
flavor: finalize
weights:
  transfer: 5
  advance: 5
genesis:
  accounts:
    alice: 100
    bob: 100
`), 0644))

	s, err := scenario.Load(path)
	require.NoError(t, err)
	require.Equal(t, "smoke", s.Name)
	require.Equal(t, int64(7), s.Seed)
	require.Equal(t, 25, s.MaxCommands)
	require.Equal(t, seqgen.Weights{"transfer": 5, "advance": 5}, s.Weights)
	require.Equal(t, uint64(100), s.Genesis.Accounts["alice"])

	_, err = scenario.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunLocalScenarioPasses(t *testing.T) {
	spec := &scenario.Spec{Seed: 42, MaxCommands: 80, Mode: scenario.ModeLocal}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Pass)
	require.Equal(t, 80, report.Commands)
	require.NotEmpty(t, report.RunID)
	require.Nil(t, report.Counterexample)
}

func TestRunDetectsFaultAndShrinks(t *testing.T) {
	spec := &scenario.Spec{
		Seed:        11,
		MaxCommands: 40,
		Mode:        scenario.ModeLocal,
		Fault:       scenario.FaultSpec{Height: 2, Account: "alice"},
	}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Pass)
	require.NotNil(t, report.Counterexample)
	require.Contains(t, report.Counterexample.Reason, "app hash")

	// Every command except the two block advances is removable, so the
	// greedy shrink must land on the minimal reproducer.
	require.Len(t, report.Counterexample.Commands, 2)
	for _, cmd := range report.Counterexample.Commands {
		require.IsType(t, model.AdvanceBlock{}, cmd)
	}
}

func TestRunWithoutShrinkKeepsRawCounterexample(t *testing.T) {
	spec := &scenario.Spec{
		Seed:        11,
		MaxCommands: 40,
		Mode:        scenario.ModeLocal,
		NoShrink:    true,
		Fault:       scenario.FaultSpec{Height: 2, Account: "alice"},
	}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Pass)
	require.False(t, report.Shrunk)
	require.NotNil(t, report.Counterexample)
	last := len(report.Counterexample.Commands) - 1
	require.Equal(t, last, report.Counterexample.Index)
	require.IsType(t, model.AdvanceBlock{}, report.Counterexample.Commands[last])
}

func TestClusterStaysInLockstep(t *testing.T) {
	spec := &scenario.Spec{Seed: 3, MaxCommands: 50, Mode: scenario.ModeLocal, Nodes: 3}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Pass)
}

func TestInjectedRestartRecovers(t *testing.T) {
	spec := &scenario.Spec{
		Seed:        9,
		MaxCommands: 30,
		Mode:        scenario.ModeLocal,
		Restart:     &scenario.RestartSpec{Node: 0, At: 10},
	}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Pass)
	require.Equal(t, 30, report.Commands)
}

func TestInfrastructureFailureRetriesWholeScenario(t *testing.T) {
	spec := &scenario.Spec{
		MaxCommands: 5,
		Mode:        scenario.ModeProcess,
		Binary:      filepath.Join(t.TempDir(), "no-such-ledgerd"),
		Retries:     2,
	}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, float64(2), testutil.ToFloat64(runner.Metrics().Retries))
}

func TestPartitionHealConverges(t *testing.T) {
	spec := &scenario.Spec{
		Seed:        5,
		MaxCommands: 30,
		Mode:        scenario.ModeLocal,
		Nodes:       2,
		Partition:   &scenario.PartitionSpec{Node: 1, At: 5, Duration: 10},
	}
	require.NoError(t, spec.Validate())

	runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Pass)
}

// TestProcessScenario drives real ledgerd processes over the socket. It needs
// a built binary, so it is opt-in.
func TestProcessScenario(t *testing.T) {
	binary := os.Getenv("TESSERA_LEDGERD")
	if binary == "" {
		t.Skip("TESSERA_LEDGERD not set; skipping process-mode scenario")
	}
	for _, flavor := range []string{"legacy", "finalize"} {
		flavor := flavor
		t.Run(flavor, func(t *testing.T) {
			spec := &scenario.Spec{
				Seed:        21,
				MaxCommands: 40,
				Mode:        scenario.ModeProcess,
				Binary:      binary,
				Flavor:      flavor,
			}
			require.NoError(t, spec.Validate())

			runner := scenario.NewRunner(spec, logging.NewTestLogger(t))
			report, err := runner.Run(context.Background())
			require.NoError(t, err)
			require.True(t, report.Pass)
		})
	}
}
