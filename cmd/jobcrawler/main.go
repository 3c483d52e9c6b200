// Package main runs the job ingestion crawler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/config"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/logging"
	"github.com/JakeFAU/job-ingest-crawler/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	dryRun := flag.Bool("dry-run", false, "Print jobs as JSON lines instead of ingesting them")
	serve := flag.Bool("serve", false, "Run the HTTP API and optional schedule instead of a single run")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, config.WithDryRun(*dryRun))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 2
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger, os.Stdout)
	if err != nil {
		logger.Error("application init failed", zap.Error(err))
		return 1
	}
	defer app.Close()

	if *serve {
		if err := app.Serve(ctx); err != nil {
			logger.Error("server stopped with error", zap.Error(err))
			return 1
		}
		return 0
	}

	report, err := app.RunOnce(ctx)
	if err != nil {
		logger.Error("run failed",
			zap.String("run_id", report.RunID),
			zap.Strings("failed_sources", report.FailedSources),
			zap.Error(err),
		)
		if errors.Is(err, crawler.ErrUnauthorized) {
			return 3
		}
		return 1
	}
	if report.Status == crawler.RunStatusPartial {
		logger.Warn("run finished with failures", zap.Strings("failed_sources", report.FailedSources))
	}
	return 0
}
