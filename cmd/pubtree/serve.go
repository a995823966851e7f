package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pubtree/cache"
	"github.com/hazyhaar/pubtree/dbopen"
	"github.com/hazyhaar/pubtree/notify"
	"github.com/hazyhaar/pubtree/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache daemon with its admin HTTP surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db, store.WithLogger(logger))
	c, err := cache.New(st, *cfg, cache.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.Init(ctx)

	bus := notify.NewBus()
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newRouter(c, st, bus, cfg),
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("pubtree: admin listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	cacheErr := make(chan error, 1)
	go func() { cacheErr <- c.Run(ctx, bus) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("pubtree: shutting down")
	case runErr = <-cacheErr:
		if runErr != nil {
			logger.Error("pubtree: cache failed", "error", runErr)
		}
	case runErr = <-httpErr:
		logger.Error("pubtree: admin server failed", "error", runErr)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("pubtree: admin shutdown", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("pubtree: %w", runErr)
	}
	return nil
}
