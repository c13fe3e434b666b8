// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// indexer is the Chain Event Indexer worker process: it runs one
// ChainIndexer loop per configured chain until shutdown or a persistent
// failure (spec.md §6's exit codes).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chainlog"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/config"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/indexer"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/metrics"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/store"
)

const clientIdentifier = "indexer"

var app = &cli.App{
	Name:  clientIdentifier,
	Usage: "Chain Event Indexer - Uniswap V3 position event ingestion worker",
}

func init() {
	// Flag parsing is owned by internal/config's pflag.FlagSet (so the same
	// flags work whether the process is invoked directly or through viper's
	// env/file layers); the cli.App here only supplies process structure
	// and exit-code handling, so it skips its own flag parsing.
	app.SkipFlagParsing = true
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to spec.md §6's worker process exit codes: 0
// graceful, 1 unrecoverable config error, 2 persistent source failure.
func exitCodeFor(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 1
	}
	if errors.Is(err, indexer.ErrPersistentFailure) {
		return 2
	}
	return 1
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func run(cliCtx *cli.Context) error {
	chainlog.SetDefault(chainlog.Root())

	v, err := config.BuildViper(config.BuildFlagSet(), cliCtx.Args().Slice())
	if err != nil {
		return &configError{err}
	}
	cfg, err := config.BuildConfig(v)
	if err != nil {
		return &configError{err}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return &configError{err}
	}
	defer st.Close()
	if err := st.ApplySchema(ctx); err != nil {
		return &configError{fmt.Errorf("apply schema: %w", err)}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			chainlog.Root().Error("metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = metricsServer.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, chainCfg := range cfg.Chains {
		chainCfg := chainCfg
		client := logsource.New(chainCfg.Endpoint, chainCfg.APIKey, chainCfg.MaxRetries, chainCfg.BaseBackoffMS)
		ci := indexer.New(chainCfg, client, st, m)
		g.Go(func() error {
			return ci.Run(gctx)
		})
	}

	return g.Wait()
}
