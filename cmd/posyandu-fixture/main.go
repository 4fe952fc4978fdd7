// Command posyandu-fixture serves the SQLite fixture backend over HTTP and,
// with -zmq, publishes the tags of every write for open sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krisalay/posyandu-cache/internal/fixture"
	"github.com/krisalay/posyandu-cache/invalidation"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP listen address")
		dsn     = flag.String("db", ":memory:", "SQLite database")
		zmqAddr = flag.String("zmq", "", "ZeroMQ PUB endpoint for invalidations, e.g. tcp://*:5600")
		token   = flag.String("token", "", "require this bearer token")
		seed    = flag.Bool("seed", true, "fill the database with demo data")
	)
	flag.Parse()

	store, err := fixture.Open(*dsn)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if *seed {
		seeded, err := fixture.Seed(ctx, store)
		if err != nil {
			slog.Error("failed to seed database", "err", err)
			os.Exit(1)
		}
		slog.Info("seeded", "posyandus", seeded.Posyandus, "admin", seeded.AdminID, "kader", seeded.KaderID)
	}

	opts := []fixture.Option{fixture.WithToken(*token)}
	if *zmqAddr != "" {
		pub := invalidation.NewPublisher(*zmqAddr, "posyandu-fixture")
		if err := pub.Start(ctx); err != nil {
			slog.Error("failed to start publisher", "err", err)
			os.Exit(1)
		}
		defer pub.Stop()
		opts = append(opts, fixture.WithPublisher(pub))
		slog.Info("publishing invalidations", "endpoint", pub.Addr())
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fixture.NewServer(store, opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("starting fixture backend", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
	slog.Info("stopped")
}
