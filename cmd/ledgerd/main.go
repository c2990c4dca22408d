// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// ledgerd is the reference node the harness tests against: the ledger
// application served over one of the two ABCI wire revisions. It is launched
// by the supervisor with a generated config and exits cleanly on SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	abciserver "github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"

	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/logging"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

var cmdMain = &cobra.Command{
	Use:   "ledgerd",
	Short: "Reference ledger node",
	Run:   run,
}

var flagMain struct {
	Config string
}

func init() {
	cmdMain.Flags().StringVarP(&flagMain.Config, "config", "c", "ledgerd.toml", "Path to the node configuration")
}

func main() {
	_ = cmdMain.Execute()
}

func run(*cobra.Command, []string) {
	cfg, err := ledger.LoadConfig(flagMain.Config)
	checkf(err, "load config")
	logger := logging.New(os.Stderr, logging.FormatPlain, cfg.LogLevel)

	flavor, err := wire.ParseFlavor(cfg.Flavor)
	checkf(err, "config")

	store, err := ledger.OpenStore(cfg.DBDir)
	checkf(err, "open database")
	defer func() { _ = store.Close() }()

	app, err := ledger.New(store, ledger.Options{
		Logger:       logger,
		FaultHeight:  cfg.FaultHeight,
		FaultAccount: cfg.FaultAccount,
	})
	checkf(err, "load ledger")

	var stop func() error
	switch flavor {
	case wire.FlavorLegacy:
		srv := ledger.NewLegacyServer(cfg.Listen, app, logger)
		checkf(srv.Start(), "start server")
		stop = srv.Stop
	case wire.FlavorFinalize:
		srv := abciserver.NewSocketServer(cfg.Listen, ledger.NewFinalizeApp(app))
		srv.SetLogger(logging.NewCometLogger(logger))
		checkf(srv.Start(), "start server")
		stop = srv.Stop
	}
	logger.Info().Str("listen", cfg.Listen).Stringer("flavor", flavor).Msg("Node running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigs
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	_ = stop()
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
