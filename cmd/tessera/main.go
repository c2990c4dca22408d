// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// tessera runs declarative conformance scenarios against ABCI nodes and
// reports the first divergence as a shrunk counterexample.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/tesseratest/tessera/internal/logging"
	"gitlab.com/tesseratest/tessera/internal/scenario"
)

var cmdMain = &cobra.Command{
	Use:   "tessera",
	Short: "Conformance harness for ABCI applications",
	Run:   printUsageAndExit1,
}

var cmdRun = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario to a verdict",
	Args:  cobra.ExactArgs(1),
	Run:   runScenario,
}

var flagRun struct {
	Output   string
	Seed     int64
	NoShrink bool
}

func init() {
	cmdMain.AddCommand(cmdRun)
	cmdMain.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", cmdMain.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("tessera")
	viper.AutomaticEnv()

	cmdRun.Flags().StringVarP(&flagRun.Output, "output", "o", "", "Write the JSON report to a file")
	cmdRun.Flags().Int64Var(&flagRun.Seed, "seed", 0, "Override the scenario seed")
	cmdRun.Flags().BoolVar(&flagRun.NoShrink, "no-shrink", false, "Report the raw counterexample without shrinking")
}

func main() {
	_ = cmdMain.Execute()
}

func printUsageAndExit1(cmd *cobra.Command, args []string) {
	_ = cmd.Usage()
	os.Exit(1)
}

func runScenario(cmd *cobra.Command, args []string) {
	logger := logging.NewForCommand(viper.GetString("log-level"))

	spec, err := scenario.Load(args[0])
	checkf(err, "load scenario")
	if cmd.Flags().Changed("seed") {
		spec.Seed = flagRun.Seed
	}
	if flagRun.NoShrink {
		spec.NoShrink = true
	}

	runner := scenario.NewRunner(spec, logger)
	checkf(runner.Metrics().Register(prometheus.DefaultRegisterer), "register metrics")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	report, err := runner.Run(ctx)
	checkf(err, "run scenario")

	if flagRun.Output != "" {
		b, err := json.MarshalIndent(report, "", "  ")
		checkf(err, "encode report")
		checkf(os.WriteFile(flagRun.Output, b, 0644), "write report")
	}

	if report.Pass {
		color.Green("PASS  run=%s seed=%d commands=%d height=%d", report.RunID, report.Seed, report.Commands, report.FinalHeight)
		return
	}
	color.Red("FAIL  run=%s seed=%d: %s", report.RunID, report.Seed, report.Counterexample.Reason)
	fmt.Print(report.Counterexample.Dump())
	os.Exit(1)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fatalf(format+": %v", append(otherArgs, err)...)
	}
}
