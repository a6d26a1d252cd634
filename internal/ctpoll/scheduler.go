package ctpoll

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"ctstream.dev/internal/ctlist"
)

// PollScheduler owns the set of LogPollers: one per log, capped at
// MaxWorkers. It does not restart a poller that exits; a dead poller stays
// dead for the lifetime of the process.
type PollScheduler struct {
	cfg        Config
	maxWorkers int

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// NewScheduler returns a scheduler that polls with cfg and launches no more
// than maxWorkers pollers.
func NewScheduler(cfg Config, maxWorkers int) *PollScheduler {
	return &PollScheduler{cfg: cfg, maxWorkers: maxWorkers}
}

// Start obtains logs from descriptors (already filtered to usable logs),
// caps the set at MaxWorkers, and launches one LogPoller per log sharing
// emit. It returns immediately; pollers run until ctx is cancelled or Stop
// is called.
func (s *PollScheduler) Start(ctx context.Context, descriptors []ctlist.Descriptor, emit BrokerFunc) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group
	s.mu.Unlock()

	logs := descriptors
	if s.maxWorkers > 0 && len(logs) > s.maxWorkers {
		log.Printf("ctpoll: capping %d usable logs down to %d workers", len(logs), s.maxWorkers)
		logs = logs[:s.maxWorkers]
	}

	for _, d := range logs {
		d := d
		poller := NewLogPoller(d, s.cfg, emit)
		poller.SetTracer(otel.Tracer("ctstream.dev/internal/ctpoll"))
		group.Go(func() error {
			poller.Run(groupCtx)
			log.Printf("ctpoll[%s]: poller exited", d.Name)
			return nil
		})
	}
}

// Stop signals cancellation to every poller and waits for all to drain. A
// poller never returns an error from Run, so Stop has nothing to report;
// errgroup is used purely as a fan-in wait.
func (s *PollScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}
	if cancel != nil {
		cancel()
	}
	if group != nil {
		group.Wait()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
