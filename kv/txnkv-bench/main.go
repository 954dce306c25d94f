package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/retry"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	strategy   string
	logLevel   string
	statusAddr string
	bankOpts   = bankOptions{
		Accounts:       100,
		Workers:        8,
		Transfers:      1000,
		InitialBalance: 1000,
	}
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "txnkv-bench",
		Short:        "Run a bank transfer workload against a transactional map",
		SilenceUsage: true,
		RunE:         runBench,
	}
	addFlags(cmd.Flags())
	return cmd
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "config file path")
	flags.StringVarP(&strategy, "strategy", "s", metrics.Optimistic, "concurrency control strategy, pessimistic or optimistic")
	flags.StringVar(&logLevel, "log-level", "", "log level, overrides the config file")
	flags.StringVar(&statusAddr, "status-addr", "", "serve metrics and store state on this address")
	flags.IntVar(&bankOpts.Accounts, "accounts", bankOpts.Accounts, "number of accounts")
	flags.IntVarP(&bankOpts.Workers, "workers", "w", bankOpts.Workers, "number of concurrent workers")
	flags.IntVarP(&bankOpts.Transfers, "transfers", "n", bankOpts.Transfers, "transfers per worker")
	flags.Int64Var(&bankOpts.InitialBalance, "initial-balance", bankOpts.InitialBalance, "balance of every account when opened")
	flags.Float64Var(&bankOpts.Rate, "rate", 0, "transfers per second over all workers, 0 means unlimited")
	flags.Int64Var(&bankOpts.Seed, "seed", time.Now().UnixNano(), "random seed")
}

func runBench(cmd *cobra.Command, _ []string) error {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		if err := conf.LoadFile(configPath); err != nil {
			return err
		}
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	if err := config.InitLogger(conf.LogLevel); err != nil {
		return err
	}

	s, err := newStore(strategy, conf)
	if err != nil {
		return err
	}
	if statusAddr != "" {
		go func() {
			log.Info("status server listening", zap.String("addr", statusAddr))
			if err := http.ListenAndServe(statusAddr, newStatusRouter(s)); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignal(cancel)

	b, err := newBank(s, bankOpts, retry.NewOptions(conf))
	if err != nil {
		return err
	}
	if err := b.open(ctx); err != nil {
		return errors.Annotate(err, "open accounts")
	}
	r, err := b.run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "strategy %s: %d transfers in %v, %d concurrency failures, latency mean %v p50 %v p99 %v, total %d\n",
		strategy, r.Transfers, r.Elapsed, r.Failures, r.Mean, r.P50, r.P99, r.Total)
	return nil
}

func handleSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		log.Info("got signal to exit", zap.Stringer("signal", sig))
		cancel()
	}()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
