// Package ctconfig holds the process-wide constants every other package
// is parameterized by, and the Consul-backed leader election that gates
// which process instance is allowed to run the poll scheduler.
package ctconfig

import (
	"time"
)

// Config mirrors the system's process-wide constant table. Every field has
// the documented default; flags in cmd/ctstream-server override them.
type Config struct {
	Host string
	Port int

	CTLogListURL string

	PollInterval time.Duration
	BatchSize    uint64

	CertificateBufferSize int

	ClientPingTimeout     time.Duration
	MaxClientsPerEndpoint int
	ClientQueueSize       int

	MaxWorkers int
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		CTLogListURL:          "",
		PollInterval:          10 * time.Second,
		BatchSize:             256,
		CertificateBufferSize: 25,
		ClientPingTimeout:     60 * time.Second,
		MaxClientsPerEndpoint: 1000,
		ClientQueueSize:       100,
		MaxWorkers:            50,
	}
}
