package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	_ "go.uber.org/automaxprocs"

	"mqchat/internal/bus"
	"mqchat/internal/gateway"
)

func main() {
	addr := flag.String("addr", ":8081", "HTTP address to listen on")
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS broker URL")
	flag.Parse()

	b, err := bus.ConnectNATS(*natsURL, "mqchat-gateway")
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer b.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.New(b))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("[gateway] listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
