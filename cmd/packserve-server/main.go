// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/config"
	"github.com/packserve/packserve/lib/service"
	"github.com/packserve/packserve/lib/store"
	"github.com/packserve/packserve/lib/tagstore"
	"github.com/packserve/packserve/lib/token"
	"github.com/packserve/packserve/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var showVersion bool
	var configPath string
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "config file path (overrides PACKSERVE_CONFIG)")
	flag.Parse()

	if showVersion {
		fmt.Printf("packserve-server %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	switch {
	case configPath != "":
		cfg, err = config.LoadFile(configPath)
	case os.Getenv(config.EnvConfig) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger()

	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}
	idleTimeout, err := cfg.IdleTimeoutDuration()
	if err != nil {
		return err
	}

	keys, generated, err := token.LoadOrGenerateKeySet(cfg.Paths.Keys)
	if err != nil {
		return fmt.Errorf("loading signing keys: %w", err)
	}
	if generated {
		logger.Info("generated new token signing keypair", "dir", cfg.Paths.Keys)
	}

	packStore, err := store.New(cfg.Paths.Store)
	if err != nil {
		return fmt.Errorf("opening pack store: %w", err)
	}
	tags, err := tagstore.New(cfg.Paths.Tags)
	if err != nil {
		return fmt.Errorf("opening tag store: %w", err)
	}
	logger.Info("tag store loaded", "tags", tags.Len())

	clk := clock.Real()
	server := &packServer{
		store:       packStore,
		tags:        tags,
		keys:        keys,
		clock:       clk,
		sessions:    newSessionLimiter(cfg.Upload.MaxSessions),
		baseURL:     cfg.BaseURL,
		maxPackSize: cfg.Upload.MaxPackSize,
		idleTimeout: idleTimeout,
		logger:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Listen,
		Handler:         server.routes(),
		ShutdownTimeout: shutdownTimeout,
		Logger:          logger,
	})
	uploadServer := service.NewTCPServer(cfg.UploadListen, server.handleUpload, logger)

	httpDone := make(chan error, 1)
	go func() { httpDone <- httpServer.Serve(ctx) }()
	uploadDone := make(chan error, 1)
	go func() { uploadDone <- uploadServer.Serve(ctx) }()

	logger.Info("packserve-server running",
		"listen", cfg.Listen,
		"upload_listen", cfg.UploadListen,
		"base_url", cfg.BaseURL,
		"store", cfg.Paths.Store,
	)

	// A listener failing on startup (port occupied, bad address)
	// should bring the whole server down, not leave it half-serving.
	var firstErr error
	select {
	case firstErr = <-httpDone:
		stop()
		<-uploadDone
	case firstErr = <-uploadDone:
		stop()
		<-httpDone
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := <-httpDone; err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		if err := <-uploadDone; err != nil {
			logger.Error("upload server shutdown", "error", err)
		}
	}
	return firstErr
}

// packServer is the shared state behind both listeners.
type packServer struct {
	store       *store.Store
	tags        *tagstore.TagStore
	keys        *token.KeySet
	clock       clock.Clock
	sessions    *sessionLimiter
	baseURL     string
	maxPackSize int64
	idleTimeout time.Duration
	logger      *slog.Logger
}
