package fanout

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// state is a Subscriber's position in its CONNECTING -> OPEN -> CLOSING ->
// CLOSED lifecycle.
type state int32

const (
	stateConnecting state = iota
	stateOpen
	stateClosing
	stateClosed
)

// wireMessage carries the only client/server control frames a Subscriber
// understands, ping and pong; anything else on the wire is ignored.
type wireMessage struct {
	MessageType string `json:"message_type"`
}

// Subscriber serves one WebSocket connection on a single view. It owns a
// bounded, drop-oldest outbound queue: publishers never block on it.
type Subscriber struct {
	conn        *websocket.Conn
	view        View
	pingTimeout time.Duration

	mu          sync.Mutex
	st          state
	queue       [][]byte
	queueCap    int
	lastPingAt  time.Time
}

// NewSubscriber wraps conn for view, with a queue of capacity queueCap and
// a liveness timeout of pingTimeout.
func NewSubscriber(conn *websocket.Conn, view View, queueCap int, pingTimeout time.Duration) *Subscriber {
	return &Subscriber{
		conn:        conn,
		view:        view,
		pingTimeout: pingTimeout,
		st:          stateConnecting,
		queue:       make([][]byte, 0, queueCap),
		queueCap:    queueCap,
		lastPingAt:  time.Now(),
	}
}

// enqueue performs a non-blocking insert; on a full queue, it drops the
// oldest queued message and inserts the new one, then calls onDrop.
func (s *Subscriber) enqueue(payload []byte, onDrop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != stateOpen && s.st != stateConnecting {
		return
	}

	if len(s.queue) >= s.queueCap {
		s.queue = s.queue[1:]
		if onDrop != nil {
			onDrop()
		}
	}
	s.queue = append(s.queue, payload)
}

func (s *Subscriber) dequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}
	payload := s.queue[0]
	s.queue = s.queue[1:]
	return payload, true
}

func (s *Subscriber) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscriber) setState(next state) {
	s.mu.Lock()
	s.st = next
	s.mu.Unlock()
}

func (s *Subscriber) currentState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *Subscriber) touchPing() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

func (s *Subscriber) sinceLastPing() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastPingAt)
}

// Serve drives the subscriber's writer and liveness tasks and the inbound
// read loop until the connection closes or ctx is cancelled, then detaches
// itself from broker.
func (s *Subscriber) Serve(ctx context.Context, broker *Broker) {
	s.setState(stateOpen)
	defer func() {
		s.setState(stateClosed)
		broker.Detach(s, s.view)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.livenessLoop(ctx, cancel)
	}()

	s.readLoop(ctx)
	cancel()
	wg.Wait()
}

// writeLoop pulls from the queue and writes text frames. It polls the
// queue every second so it can notice cancellation promptly even though
// there is no channel to select on (the queue is a plain slice, not a
// channel, so drop-oldest eviction under lock stays simple).
func (s *Subscriber) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		for {
			payload, ok := s.dequeue()
			if !ok {
				break
			}
			if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
				s.setState(stateClosing)
				cancel()
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// livenessLoop closes the socket if the subscriber has gone quiet for
// longer than pingTimeout.
func (s *Subscriber) livenessLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.pingTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sinceLastPing() > s.pingTimeout {
				s.setState(stateClosing)
				s.conn.Close(websocket.StatusNormalClosure, "ping timeout")
				cancel()
				return
			}
		}
	}
}

// readLoop parses incoming frames as JSON; a ping updates last_ping_at and
// elicits a pong, everything else is ignored.
func (s *Subscriber) readLoop(ctx context.Context) {
	s.touchPing()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.MessageType != "ping" {
			continue
		}

		s.touchPing()
		pong, _ := json.Marshal(wireMessage{MessageType: "pong"})
		if err := s.conn.Write(ctx, websocket.MessageText, pong); err != nil {
			log.Printf("fanout: writing pong: %v", err)
			return
		}
	}
}
