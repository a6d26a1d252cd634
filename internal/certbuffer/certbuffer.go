// Package certbuffer holds a fixed-capacity sliding window of the most
// recently observed certificate records, plus running throughput stats.
//
// There is no example in the retrieved corpus implementing a bounded ring
// buffer; this is ordinary mutex-guarded Go using only the standard
// library, which is the right tool for a small in-process data structure
// with no external dependency surface to speak of.
package certbuffer

import (
	"sync"
	"time"

	"ctstream.dev/internal/ctentry"
)

// Stats is a point-in-time snapshot of buffer occupancy and throughput.
type Stats struct {
	BufferSize     int       `json:"buffer_size"`
	BufferCapacity int       `json:"buffer_capacity"`
	TotalProcessed uint64    `json:"total_processed"`
	UptimeSeconds  float64   `json:"uptime_s"`
	RatePerSecond  float64   `json:"rate_per_s"`
	StartedAt      time.Time `json:"started_at"`
}

// Buffer is a mutex-serialized, fixed-capacity sliding window.
type Buffer struct {
	mu        sync.Mutex
	capacity  int
	records   []ctentry.Record
	total     uint64
	startedAt time.Time
}

// New returns a Buffer holding at most capacity records.
func New(capacity int) *Buffer {
	return &Buffer{
		capacity:  capacity,
		records:   make([]ctentry.Record, 0, capacity),
		startedAt: time.Now(),
	}
}

// Add appends r, discarding the oldest record if the buffer is at capacity.
func (b *Buffer) Add(r ctentry.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		copy(b.records, b.records[1:])
		b.records = b.records[:len(b.records)-1]
	}
	b.records = append(b.records, r)
	b.total++
}

// Latest returns a value-copy snapshot of up to k records, newest-first.
// A nil k returns all buffered records.
func (b *Buffer) Latest(k *int) []ctentry.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.records)
	if k != nil && *k < n {
		n = *k
	}
	if n < 0 {
		n = 0
	}

	out := make([]ctentry.Record, n)
	for i := 0; i < n; i++ {
		out[i] = b.records[len(b.records)-1-i]
	}
	return out
}

// Example returns the most recently added record, or false if the buffer
// is empty.
func (b *Buffer) Example() (ctentry.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return ctentry.Record{}, false
	}
	return b.records[len(b.records)-1], true
}

// Stats returns a snapshot of current occupancy and throughput.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	size := len(b.records)
	total := b.total
	started := b.startedAt
	b.mu.Unlock()

	uptime := time.Since(started).Seconds()
	var rate float64
	if uptime > 0 {
		rate = float64(total) / uptime
	}

	return Stats{
		BufferSize:     size,
		BufferCapacity: b.capacity,
		TotalProcessed: total,
		UptimeSeconds:  uptime,
		RatePerSecond:  rate,
		StartedAt:      started,
	}
}
