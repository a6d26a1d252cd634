package fanout

import (
	"encoding/json"
	"testing"

	"ctstream.dev/internal/certbuffer"
	"ctstream.dev/internal/ctentry"
	"ctstream.dev/internal/ctlist"
)

func newTestSubscriber(queueCap int) *Subscriber {
	return &Subscriber{
		st:       stateOpen,
		queue:    make([][]byte, 0, queueCap),
		queueCap: queueCap,
	}
}

func TestBroker_AttachRejectsPastCapacity(t *testing.T) {
	b := NewBroker(certbuffer.New(10), 2, 10)

	a, c1 := newTestSubscriber(10), newTestSubscriber(10)
	c2 := newTestSubscriber(10)

	if !b.Attach(a, ViewFull) {
		t.Fatal("expected first subscriber to be admitted")
	}
	if !b.Attach(c1, ViewFull) {
		t.Fatal("expected second subscriber to be admitted")
	}
	if b.Attach(c2, ViewFull) {
		t.Fatal("expected third subscriber to be rejected at capacity 2")
	}

	counts := b.Counts()
	if counts.FullStream != 2 {
		t.Errorf("FullStream = %d, want 2", counts.FullStream)
	}
}

func TestBroker_DetachFreesCapacity(t *testing.T) {
	b := NewBroker(certbuffer.New(10), 1, 10)
	a := newTestSubscriber(10)

	if !b.Attach(a, ViewLite) {
		t.Fatal("expected admission")
	}
	b.Detach(a, ViewLite)

	other := newTestSubscriber(10)
	if !b.Attach(other, ViewLite) {
		t.Fatal("expected admission after detach freed a slot")
	}
}

func TestBroker_PublishAddsToBufferBeforeEnqueue(t *testing.T) {
	buf := certbuffer.New(5)
	b := NewBroker(buf, 10, 10)

	full := newTestSubscriber(10)
	b.Attach(full, ViewFull)

	rec := ctentry.Record{
		Source: ctlist.Descriptor{URL: "https://ct.example.com", Name: "log"},
		Leaf:   ctentry.Leaf{DER: []byte{1, 2, 3}, AllDomains: []string{"example.com"}},
	}
	b.Publish(rec)

	if ex, ok := buf.Example(); !ok || len(ex.Leaf.DER) != 3 {
		t.Fatalf("expected buffer to have received the record: %+v, %v", ex, ok)
	}

	payload, ok := full.dequeue()
	if !ok {
		t.Fatal("expected full subscriber to receive a payload")
	}

	var env struct {
		MessageType string `json:"message_type"`
		Data        struct {
			UpdateType string       `json:"update_type"`
			LeafCert   ctentry.Leaf `json:"leaf_cert"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if env.MessageType != "certificate_update" {
		t.Errorf("message_type = %q", env.MessageType)
	}
	if env.Data.UpdateType != "X509LogEntry" {
		t.Errorf("update_type = %q", env.Data.UpdateType)
	}
	if len(env.Data.LeafCert.DER) != 3 {
		t.Errorf("full view should carry DER, got %v", env.Data.LeafCert.DER)
	}
}

func TestBroker_DomainsOnlyViewOmitsCertBytes(t *testing.T) {
	buf := certbuffer.New(5)
	b := NewBroker(buf, 10, 10)

	domainsOnly := newTestSubscriber(10)
	b.Attach(domainsOnly, ViewDomainsOnly)

	rec := ctentry.Record{
		Source: ctlist.Descriptor{URL: "https://ct.example.com", Name: "log"},
		SeenAt: 42,
		Leaf:   ctentry.Leaf{DER: []byte{1, 2, 3}, AllDomains: []string{"example.com"}},
	}
	b.Publish(rec)

	payload, ok := domainsOnly.dequeue()
	if !ok {
		t.Fatal("expected domains-only subscriber to receive a payload")
	}
	if string(payload) == "" {
		t.Fatal("empty payload")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw["data"], &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if _, hasDER := data["leaf_cert"]; hasDER {
		t.Error("domains-only payload must not carry leaf_cert")
	}
	if _, hasDomains := data["domains"]; !hasDomains {
		t.Error("domains-only payload must carry domains")
	}
}

func TestSubscriber_DropsOldestOnFullQueue(t *testing.T) {
	s := newTestSubscriber(3)
	drops := 0
	onDrop := func() { drops++ }

	for i := 1; i <= 5; i++ {
		s.enqueue([]byte{byte(i)}, onDrop)
	}

	if drops != 2 {
		t.Fatalf("expected 2 drops, got %d", drops)
	}
	if s.queueLen() != 3 {
		t.Fatalf("expected queue len 3, got %d", s.queueLen())
	}

	var got []byte
	for {
		p, ok := s.dequeue()
		if !ok {
			break
		}
		got = append(got, p...)
	}
	want := []byte{3, 4, 5}
	if string(got) != string(want) {
		t.Errorf("survivors = %v, want %v", got, want)
	}
}

func TestSubscriber_QueueNeverExceedsCapacity(t *testing.T) {
	s := newTestSubscriber(3)
	for i := 0; i < 100; i++ {
		s.enqueue([]byte{byte(i)}, nil)
		if s.queueLen() > 3 {
			t.Fatalf("queue exceeded capacity: %d", s.queueLen())
		}
	}
}
