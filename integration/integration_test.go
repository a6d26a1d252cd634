package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"ctstream.dev/internal/ctconfig"
	"ctstream.dev/internal/ctserver"
)

// logListServer serves a minimal v3-shaped log list pointing at a single
// usable log: ctLogURL.
func logListServer(ctLogURL string) *httptest.Server {
	body := fmt.Sprintf(`{
		"operators": [
			{"logs": [{"url": %q, "description": "fake log", "state": {"usable": {}}}]}
		]
	}`, ctLogURL)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
}

// TestEndToEnd_PollAndFanOut drives a real ctserver.MainMain instance against
// a fake CT log through the HTTP JSON surface and a WebSocket subscriber,
// verifying a certificate appended after startup reaches both.
func TestEndToEnd_PollAndFanOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}

	ctLog := &fakeCTLog{}
	ctLogSrv := ctLog.server()
	defer ctLogSrv.Close()

	listSrv := logListServer(ctLogSrv.URL)
	defer listSrv.Close()

	host := "127.0.0.1"
	port, err := freePort()
	if err != nil {
		t.Fatalf("allocating port: %v", err)
	}
	// ctserver.MainMain also binds port+1..port+3 for the WS listeners.

	cfg := ctconfig.Default()
	cfg.CTLogListURL = listSrv.URL
	cfg.PollInterval = 20 * time.Millisecond
	cfg.BatchSize = 10
	cfg.CertificateBufferSize = 10
	cfg.MaxClientsPerEndpoint = 10
	cfg.ClientQueueSize = 10
	cfg.MaxWorkers = 5

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctserver.MainMain(host, port, cfg, "", "")
	}()

	baseURL := fmt.Sprintf("http://%s:%d", host, port)
	waitForHealth(t, baseURL)

	wsURL := fmt.Sprintf("ws://%s:%d", host, port+2) // ViewFull is port+2
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing full-view websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctLog.addLeaf("integration-test.example.com")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading certificate_update: %v", err)
	}

	var env struct {
		MessageType string `json:"message_type"`
		Data        struct {
			UpdateType string `json:"update_type"`
			LeafCert   struct {
				AllDomains []string `json:"all_domains"`
			} `json:"leaf_cert"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshaling certificate_update: %v", err)
	}
	if env.MessageType != "certificate_update" {
		t.Fatalf("message_type = %q, want certificate_update", env.MessageType)
	}
	if len(env.Data.LeafCert.AllDomains) == 0 || env.Data.LeafCert.AllDomains[0] != "integration-test.example.com" {
		t.Fatalf("unexpected domains: %+v", env.Data.LeafCert.AllDomains)
	}

	resp, err := http.Get(baseURL + "/latest.json")
	if err != nil {
		t.Fatalf("GET /latest.json: %v", err)
	}
	defer resp.Body.Close()
	var latest struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&latest)
	if latest.Count < 1 {
		t.Fatalf("/latest.json count = %d, want >= 1", latest.Count)
	}
}

func waitForHealth(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not become healthy in time")
}

// TestLeaderElection_ConsulGatesSinglePoller exercises the Consul-backed
// leader-election lock in isolation, standing up a real Consul container.
func TestLeaderElection_ConsulGatesSinglePoller(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}

	ctx := context.Background()
	consulAddr, cleanup, err := consulSetup(ctx)
	if err != nil {
		t.Fatalf("starting consul: %v", err)
	}
	defer cleanup()

	lockPath := "ctstream/integration-test-lock"

	first, err := ctconfig.Acquire(consulAddr, lockPath)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	acquired := make(chan struct{})
	go func() {
		// This blocks until first.Release() runs (the lock has no
		// deadline), so it leaks past this test's lifetime if the
		// assertion below ever fails to observe contention first;
		// acceptable for a test asserting non-acquisition within a window.
		second, err := ctconfig.Acquire(consulAddr, lockPath)
		if err != nil {
			return
		}
		defer second.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second replica acquired the lock while the first still held it")
	case <-time.After(500 * time.Millisecond):
	}
}
