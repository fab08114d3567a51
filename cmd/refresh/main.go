package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/solclash/solclash"
)

// One-shot refresh for cron. Exits 0 without doing anything when another
// run holds a fresh lock.
func main() {
	cfg, err := solclash.LoadConfig()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger := solclash.NewLogger("refresh")
	lock := &solclash.FileLock{Path: cfg.LockFile, Logger: logger}

	acquired, err := lock.Acquire()
	if err != nil {
		log.Fatalf("acquire lock: %v", err)
	}
	if !acquired {
		logger.Printf("another refresh is running, exiting")
		os.Exit(0)
	}
	defer lock.Release()

	gateway := solclash.NewGateway(cfg, logger)
	aggregator := solclash.NewAggregator(cfg, gateway, logger)
	store := solclash.NewResultStore(cfg.DataFile, aggregator.Run, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	doc, err := store.ForceRefresh(ctx)
	if err != nil {
		lock.Release()
		log.Fatalf("refresh: %v", err)
	}
	logger.Printf("refresh complete, %d wallets ranked", len(doc.Data))
}
