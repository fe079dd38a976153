package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dgallion1/docflow/internal/api"
	"github.com/dgallion1/docflow/internal/config"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/metrics"
	"github.com/dgallion1/docflow/internal/pipeline"
	"github.com/dgallion1/docflow/internal/runstore"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	grammar, err := cfg.ParseConfig()
	if err != nil {
		log.Error("invalid grammar", "file", cfg.GrammarFile, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Remote sources.
	fetcher := loader.NewFetcher(cfg.RemoteTimeout, cfg.RemoteRPS, log)
	if cfg.EnableS3 {
		client, err := loader.NewS3Client(ctx)
		if err != nil {
			log.Error("s3 client", "error", err)
			os.Exit(1)
		}
		fetcher.S3 = client
	}

	// Result store.
	var store runstore.Store
	if cfg.ResultStoreURL != "" {
		remote := runstore.NewRemote(cfg.ResultStoreURL, cfg.ResultStoreKey, cfg.ResultKeyPrefix)
		defer remote.Close()
		store = remote
		log.Info("using remote result store", "url", cfg.ResultStoreURL, "prefix", cfg.ResultKeyPrefix)
	} else {
		store = runstore.NewMemory(cfg.ResultTTL)
	}

	// Pipeline.
	coord := pipeline.NewCoordinator(cfg.ParseWorkers, log, m)
	orch := pipeline.NewOrchestrator(cfg, coord, store, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, fetcher, reg, grammar, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		orch.Stop()
	}()

	log.Info("starting docflow", "port", cfg.Port, "workers", cfg.WorkerCount, "parse_workers", cfg.ParseWorkers)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
