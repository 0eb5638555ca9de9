package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"mqchat/internal/bus"
	"mqchat/internal/config"
	"mqchat/internal/server"
)

func main() {
	cfg := config.FromEnv()

	natsURL := flag.String("nats", cfg.NATSURL, "NATS broker URL")
	timeout := flag.Duration("timeout", cfg.ClientTimeout, "client liveness timeout (and sweep period)")
	hbEvery := flag.Duration("heartbeat", cfg.ServerHeartbeatInterval, "server heartbeat broadcast interval")
	archive := flag.String("archive", cfg.ArchivePath, "SQLite statistics archive path (empty disables)")
	workers := flag.Int("workers", cfg.ArchiveWorkers, "statistics persistence worker goroutines")
	flag.Parse()

	cfg.NATSURL = *natsURL
	cfg.ClientTimeout = *timeout
	cfg.ServerHeartbeatInterval = *hbEvery
	cfg.ArchivePath = *archive
	cfg.ArchiveWorkers = *workers

	b, err := bus.ConnectNATS(cfg.NATSURL, "mqchat-server")
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer b.Close()

	srv, err := server.New(b, cfg)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("start server: %v", err)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[server] shutting down…")
	srv.Stop()
	// Give in-flight bus callbacks a moment to drain before closing the conn.
	time.Sleep(100 * time.Millisecond)
}
