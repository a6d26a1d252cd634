// Package ctserver exposes the HTTP and WebSocket surface described in the
// downstream interface: four plain JSON endpoints and three WebSocket
// listeners, one per fan-out view.
package ctserver

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ctstream.dev/internal/certbuffer"
	"ctstream.dev/internal/ctconfig"
	"ctstream.dev/internal/fanout"
)

// Server bundles the shared state every handler needs.
type Server struct {
	Buffer *certbuffer.Buffer
	Broker *fanout.Broker
	Config ctconfig.Config
}

// HTTPHandler builds the mux for /latest.json, /example.json, /stats and
// /health, each wrapped with otelhttp instrumentation.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /latest.json", otelhttp.NewHandler(http.HandlerFunc(s.handleLatest), "latest"))
	mux.Handle("GET /example.json", otelhttp.NewHandler(http.HandlerFunc(s.handleExample), "example"))
	mux.Handle("GET /stats", otelhttp.NewHandler(http.HandlerFunc(s.handleStats), "stats"))
	mux.Handle("GET /health", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "health"))
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ctserver: writing response: %v", err)
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	certs := s.Buffer.Latest(nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"certificates": certs,
		"count":        len(certs),
	})
}

func (s *Server) handleExample(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Buffer.Example()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No certificates available yet"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.Broker.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"buffer": s.Buffer.Stats(),
		"clients": map[string]any{
			"clients":                  counts,
			"max_clients_per_endpoint": s.Config.MaxClientsPerEndpoint,
		},
		"config": map[string]any{
			"poll_interval":       s.Config.PollInterval.Milliseconds(),
			"batch_size":          s.Config.BatchSize,
			"buffer_size":         s.Config.CertificateBufferSize,
			"client_ping_timeout": s.Config.ClientPingTimeout.Milliseconds(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WSHandler accepts connections for a single view and serves each one as a
// Subscriber until it closes.
func (s *Server) WSHandler(view fanout.View) http.Handler {
	return otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Printf("ctserver: websocket accept: %v", err)
			return
		}

		sub := fanout.NewSubscriber(conn, view, s.Config.ClientQueueSize, s.Config.ClientPingTimeout)
		if !s.Broker.Attach(sub, view) {
			conn.Close(websocket.StatusPolicyViolation, fanout.ReasonMaxClients)
			return
		}

		sub.Serve(r.Context(), s.Broker)
	}), view.String())
}
