// Package integration drives the full ctstream-server pipeline in-process
// through ctserver.MainMain (scheduler, buffer, broker, HTTP/WS surface)
// against a fake CT log, and exercises the leader-election lock separately
// against a real Consul container.
package integration

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/testcontainers/testcontainers-go"
	tcConsul "github.com/testcontainers/testcontainers-go/modules/consul"
)

// fakeCTLog serves get-sth/get-entries from an in-memory list of leaf_inputs,
// standing in for a real CT log: no docker image for one exists in the
// retrieval pack, so this one fixture is httptest rather than testcontainers.
type fakeCTLog struct {
	mu     sync.Mutex
	leaves [][]byte
}

func (f *fakeCTLog) addLeaf(cn string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	buf := make([]byte, 0, 12+3+len(der))
	buf = append(buf, 0, 0)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, 0, 0)
	n := len(der)
	buf = append(buf, byte(n>>16), byte(n>>8), byte(n))
	buf = append(buf, der...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, buf)
}

func (f *fakeCTLog) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ct/v1/get-sth", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(ct.SignedTreeHead{TreeSize: uint64(len(f.leaves))})
	})
	mux.HandleFunc("/ct/v1/get-entries", func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		fmt.Sscanf(r.URL.Query().Get("start"), "%d", &start)
		fmt.Sscanf(r.URL.Query().Get("end"), "%d", &end)

		f.mu.Lock()
		defer f.mu.Unlock()
		if end >= len(f.leaves) {
			end = len(f.leaves) - 1
		}
		var entries []ct.LeafEntry
		for i := start; i <= end && i >= 0 && i < len(f.leaves); i++ {
			entries = append(entries, ct.LeafEntry{LeafInput: f.leaves[i]})
		}
		json.NewEncoder(w).Encode(ct.GetEntriesResponse{Entries: entries})
	})
	return httptest.NewServer(mux)
}

func consulSetup(ctx context.Context) (string, func(), error) {
	container, err := tcConsul.RunContainer(ctx,
		testcontainers.WithImage("docker.io/hashicorp/consul:1.15"),
	)
	if err != nil {
		return "", nil, fmt.Errorf("starting consul container: %w", err)
	}

	endpoint, err := container.ApiEndpoint(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("getting consul endpoint: %w", err)
	}

	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return endpoint, cleanup, nil
}

// freePort asks the OS for an unused TCP port by binding and releasing one,
// to avoid port collisions between test runs.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
