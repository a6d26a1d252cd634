// Package fanout distributes decoded certificate records to WebSocket
// subscribers across three views, with a bounded, drop-oldest queue per
// subscriber so a slow client can never stall the pollers feeding it.
package fanout

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"ctstream.dev/internal/certbuffer"
	"ctstream.dev/internal/ctentry"
)

// View names the three fan-out projections a subscriber can attach to.
type View int

const (
	ViewFull View = iota
	ViewLite
	ViewDomainsOnly
)

func (v View) String() string {
	switch v {
	case ViewFull:
		return "full_stream"
	case ViewLite:
		return "lite_stream"
	case ViewDomainsOnly:
		return "domains_only_stream"
	default:
		return "unknown"
	}
}

// ReasonMaxClients is the close reason sent when a view is at capacity.
const ReasonMaxClients = "Max clients reached"

// ClientCounts reports the number of attached subscribers per view.
type ClientCounts struct {
	FullStream        int `json:"full_stream"`
	LiteStream        int `json:"lite_stream"`
	DomainsOnlyStream int `json:"domains_only_stream"`
	Total             int `json:"total"`
}

// Broker is the single entry point pollers publish through and the single
// owner of subscriber membership for all three views.
type Broker struct {
	Buffer *certbuffer.Buffer

	maxClientsPerView int
	queueSize         int

	mu   sync.Mutex
	sets map[View]map[*Subscriber]struct{}

	drops  uint64
	tracer trace.Tracer
}

// NewBroker returns a Broker backed by buf, admitting up to
// maxClientsPerView subscribers per view and sizing each subscriber's
// queue at queueSize.
func NewBroker(buf *certbuffer.Buffer, maxClientsPerView, queueSize int) *Broker {
	return &Broker{
		Buffer:            buf,
		maxClientsPerView: maxClientsPerView,
		queueSize:         queueSize,
		sets: map[View]map[*Subscriber]struct{}{
			ViewFull:        make(map[*Subscriber]struct{}),
			ViewLite:        make(map[*Subscriber]struct{}),
			ViewDomainsOnly: make(map[*Subscriber]struct{}),
		},
		tracer: trace.NewNoopTracerProvider().Tracer(""),
	}
}

// SetTracer installs the tracer used to wrap each Publish call in a span.
func (b *Broker) SetTracer(tracer trace.Tracer) {
	b.tracer = tracer
}

// Attach admits subscriber to view, rejecting it if the view is at
// capacity. It returns false on rejection.
func (b *Broker) Attach(sub *Subscriber, view View) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.sets[view]
	if len(set) >= b.maxClientsPerView {
		return false
	}
	set[sub] = struct{}{}
	return true
}

// Detach removes sub from view's membership set.
func (b *Broker) Detach(sub *Subscriber, view View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sets[view], sub)
}

// Counts returns a snapshot of subscriber counts per view.
func (b *Broker) Counts() ClientCounts {
	b.mu.Lock()
	defer b.mu.Unlock()

	full := len(b.sets[ViewFull])
	lite := len(b.sets[ViewLite])
	domains := len(b.sets[ViewDomainsOnly])
	return ClientCounts{
		FullStream:        full,
		LiteStream:        lite,
		DomainsOnlyStream: domains,
		Total:             full + lite + domains,
	}
}

// certificateUpdate is the wire envelope wrapping every published record.
type certificateUpdate struct {
	MessageType string `json:"message_type"`
	Data        any    `json:"data"`
}

type fullOrLiteData struct {
	UpdateType string              `json:"update_type"`
	LeafCert   ctentry.Leaf        `json:"leaf_cert"`
	Chain      []ctentry.ChainCert `json:"chain"`
	CertIndex  uint64              `json:"cert_index"`
	Seen       float64             `json:"seen"`
	Source     any                 `json:"source"`
}

// Publish adds r to the buffer, then for each view with at least one
// subscriber, marshals that view's payload exactly once and enqueues it to
// every member of the view.
func (b *Broker) Publish(r ctentry.Record) {
	_, span := b.tracer.Start(context.Background(), "fanout.publish")
	defer span.End()

	b.Buffer.Add(r)

	b.mu.Lock()
	full := snapshotSet(b.sets[ViewFull])
	lite := snapshotSet(b.sets[ViewLite])
	domains := snapshotSet(b.sets[ViewDomainsOnly])
	b.mu.Unlock()

	if len(full) > 0 {
		if payload, err := marshalFull(r); err == nil {
			broadcast(full, payload, b.onDrop)
		} else {
			log.Printf("fanout: marshaling full view: %v", err)
		}
	}
	if len(lite) > 0 {
		if payload, err := marshalFull(ctentry.ToLite(r)); err == nil {
			broadcast(lite, payload, b.onDrop)
		} else {
			log.Printf("fanout: marshaling lite view: %v", err)
		}
	}
	if len(domains) > 0 {
		if payload, err := marshalDomainsOnly(r); err == nil {
			broadcast(domains, payload, b.onDrop)
		} else {
			log.Printf("fanout: marshaling domains-only view: %v", err)
		}
	}
}

func marshalFull(r ctentry.Record) ([]byte, error) {
	env := certificateUpdate{
		MessageType: "certificate_update",
		Data: fullOrLiteData{
			UpdateType: "X509LogEntry",
			LeafCert:   r.Leaf,
			Chain:      r.Chain,
			CertIndex:  r.CertIndex,
			Seen:       r.SeenAt,
			Source:     r.Source,
		},
	}
	return json.Marshal(env)
}

func marshalDomainsOnly(r ctentry.Record) ([]byte, error) {
	env := certificateUpdate{
		MessageType: "certificate_update",
		Data:        ctentry.ToDomainsOnly(r),
	}
	return json.Marshal(env)
}

func snapshotSet(set map[*Subscriber]struct{}) []*Subscriber {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Subscriber, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func broadcast(subs []*Subscriber, payload []byte, onDrop func()) {
	for _, s := range subs {
		s.enqueue(payload, onDrop)
	}
}

// onDrop is called by a Subscriber whenever it has to evict a queued
// message to make room. Drops are counted always, logged at a rate to
// avoid a noisy log under sustained backpressure.
func (b *Broker) onDrop() {
	n := atomic.AddUint64(&b.drops, 1)
	if n%100 == 1 {
		log.Printf("fanout: dropped %d messages so far due to slow subscribers", n)
	}
}

// DropCount returns the total number of messages dropped for backpressure
// across every subscriber, ever.
func (b *Broker) DropCount() uint64 {
	return atomic.LoadUint64(&b.drops)
}
