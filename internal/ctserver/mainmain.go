package ctserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ctstream.dev/internal/certbuffer"
	"ctstream.dev/internal/ctconfig"
	"ctstream.dev/internal/ctlist"
	"ctstream.dev/internal/ctpoll"
	"ctstream.dev/internal/fanout"
	"ctstream.dev/internal/telemetry"
)

// shutdownGrace bounds how long in-flight requests and WS connections get
// to drain once a termination signal arrives.
const shutdownGrace = 5 * time.Second

// MainMain wires the log directory, poll scheduler, certificate buffer,
// fan-out broker, and HTTP/WebSocket surface together and serves until a
// termination signal arrives or one of its listeners fails. It is kept separate from
// cmd/ctstream-server/main.go's flag parsing so the integration suite can
// drive the whole pipeline without a subprocess.
//
// consulAddress and lockPath are both optional: an empty lockPath skips
// leader election entirely, which is how the integration test and a
// single-instance deployment both run.
func MainMain(host string, port int, cfg ctconfig.Config, consulAddress, lockPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTelemetry := telemetry.Configure("ctstream-server")
	defer shutdownTelemetry(context.Background())

	var leadership *ctconfig.Leadership
	if lockPath != "" {
		var err error
		leadership, err = ctconfig.Acquire(consulAddress, lockPath)
		if err != nil {
			return fmt.Errorf("ctserver: acquiring leadership: %w", err)
		}
		defer leadership.Release()
	}

	buf := certbuffer.New(cfg.CertificateBufferSize)
	broker := fanout.NewBroker(buf, cfg.MaxClientsPerEndpoint, cfg.ClientQueueSize)
	broker.SetTracer(tracer)

	directory := ctlist.NewDirectory(cfg.CTLogListURL)
	descriptors := directory.List(ctx)
	if len(descriptors) == 0 {
		log.Printf("ctserver: log list is empty, pollers will not start; HTTP surface still serves /health")
	}

	scheduler := ctpoll.NewScheduler(ctpoll.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
	}, cfg.MaxWorkers)

	if len(descriptors) > 0 {
		scheduler.Start(ctx, descriptors, broker.Publish)
	}
	defer scheduler.Stop()

	srv := &Server{Buffer: buf, Broker: broker, Config: cfg}

	httpListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("ctserver: binding http listener: %w", err)
	}
	liteListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port+1))
	if err != nil {
		return fmt.Errorf("ctserver: binding lite ws listener: %w", err)
	}
	fullListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port+2))
	if err != nil {
		return fmt.Errorf("ctserver: binding full ws listener: %w", err)
	}
	domainsListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port+3))
	if err != nil {
		return fmt.Errorf("ctserver: binding domains-only ws listener: %w", err)
	}

	return serveAll(ctx, srv, httpListener, liteListener, fullListener, domainsListener)
}

func serveAll(ctx context.Context, srv *Server, httpLn, liteLn, fullLn, domainsLn net.Listener) error {
	httpSrv := &http.Server{Handler: srv.HTTPHandler()}
	liteSrv := &http.Server{Handler: srv.WSHandler(fanout.ViewLite)}
	fullSrv := &http.Server{Handler: srv.WSHandler(fanout.ViewFull)}
	domainsSrv := &http.Server{Handler: srv.WSHandler(fanout.ViewDomainsOnly)}

	errCh := make(chan error, 4)
	go func() { errCh <- httpSrv.Serve(httpLn) }()
	go func() { errCh <- liteSrv.Serve(liteLn) }()
	go func() { errCh <- fullSrv.Serve(fullLn) }()
	go func() { errCh <- domainsSrv.Serve(domainsLn) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		liteSrv.Shutdown(shutdownCtx)
		fullSrv.Shutdown(shutdownCtx)
		domainsSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
