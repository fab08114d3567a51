package main

import (
	"expvar"
	"log"
	"net/http"

	"github.com/solclash/solclash"
)

func main() {
	cfg, err := solclash.LoadConfig()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger := solclash.NewLogger("web")
	gateway := solclash.NewGateway(cfg, logger)
	aggregator := solclash.NewAggregator(cfg, gateway, logger)
	store := solclash.NewResultStore(cfg.DataFile, aggregator.Run, logger)

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/", solclash.NewServer(cfg, store, logger))

	logger.Printf("listening at %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
