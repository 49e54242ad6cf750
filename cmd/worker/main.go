package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"thirdcoast.systems/clipforge/internal/application"
	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/internal/db"
	"thirdcoast.systems/clipforge/internal/storage"
	"thirdcoast.systems/clipforge/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting clip worker")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.WorkerName == "" {
		// Hostname is the container ID in most deployments
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = fmt.Sprintf("pid-%d", os.Getpid())
		}
		conf.WorkerName = "worker-" + hostname
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	blobs, err := storage.New(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(conf.TmpDir, 0o755); err != nil {
		slog.Error("failed to create scratch dir", "dir", conf.TmpDir, "error", err)
		os.Exit(1)
	}

	wake := make(chan struct{}, 1)
	go worker.ListenForJobs(ctx, conf.DatabaseDSN, wake)

	w := worker.New(*conf, dbc, blobs)
	w.Wake = wake
	w.Run(ctx)

	slog.Info("Clip worker stopped")
}
