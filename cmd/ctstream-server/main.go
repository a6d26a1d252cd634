package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ctstream.dev/internal/ctconfig"
	"ctstream.dev/internal/ctserver"
)

func main() {
	host := flag.String("host", "0.0.0.0", "IP address to listen on.")
	port := flag.Int("port", 8080, "Port for the JSON HTTP surface; WebSocket views bind port+1..port+3.")
	logListURL := flag.String("ct-log-list-url", "", "CT log list URL. Defaults to Google's published v3 list.")
	pollInterval := flag.Duration("poll-interval", 10*time.Second, "Per-log STH poll interval.")
	batchSize := flag.Uint64("batch-size", 256, "Max entries requested per get-entries call.")
	bufferSize := flag.Int("buffer-size", 25, "Sliding-window certificate buffer capacity.")
	pingTimeout := flag.Duration("client-ping-timeout", 60*time.Second, "Subscriber liveness timeout.")
	maxClients := flag.Int("max-clients-per-endpoint", 1000, "Max concurrent subscribers per view.")
	queueSize := flag.Int("client-queue-size", 100, "Per-subscriber outbound queue capacity.")
	maxWorkers := flag.Int("max-workers", 50, "Cap on concurrently running log pollers.")
	consulAddress := flag.String("consul-address", "", "Consul HTTP address for leader election. Empty uses the client default.")
	lockPath := flag.String("lock-path", "", "Consul KV path used for single-active-poller leader election. Empty disables leader election.")
	flag.Parse()

	if *port == 0 {
		fmt.Println("Error: -port flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	cfg := ctconfig.Default()
	cfg.Host = *host
	cfg.Port = *port
	cfg.CTLogListURL = *logListURL
	cfg.PollInterval = *pollInterval
	cfg.BatchSize = *batchSize
	cfg.CertificateBufferSize = *bufferSize
	cfg.ClientPingTimeout = *pingTimeout
	cfg.MaxClientsPerEndpoint = *maxClients
	cfg.ClientQueueSize = *queueSize
	cfg.MaxWorkers = *maxWorkers

	if err := ctserver.MainMain(*host, *port, cfg, *consulAddress, *lockPath); err != nil {
		log.Fatalf("ctstream-server: %v", err)
	}
}
