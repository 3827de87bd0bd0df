package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/iho/custody/internal/domain"
)

func sampleEvent() *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            "01HX",
		Store:         "exchange",
		AggregateID:   "7/1",
		AggregateType: domain.AggregateTypeAgreement,
		EventType:     domain.EventTypeAgreementConfirmed,
		Payload:       map[string]any{"amount": "5"},
		CreatedAt:     time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

type stubJetStream struct {
	subject string
	payload []byte
	opts    int
	err     error
}

func (s *stubJetStream) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	s.subject, s.payload, s.opts = subject, payload, len(opts)
	if s.err != nil {
		return nil, s.err
	}
	return &jetstream.PubAck{Stream: StreamName, Sequence: 1}, nil
}

func TestNATSPublisher(t *testing.T) {
	js := &stubJetStream{}
	pub := NewNATSPublisher(js)

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if js.subject != "custody.events.exchange.agreement_confirmed" {
		t.Fatalf("unexpected subject %q", js.subject)
	}
	if js.opts != 1 {
		t.Fatalf("expected message id option, got %d options", js.opts)
	}

	var decoded domain.OutboxEvent
	if err := json.Unmarshal(js.payload, &decoded); err != nil || decoded.ID != "01HX" {
		t.Fatalf("unexpected payload %s: %v", js.payload, err)
	}

	js.err = errors.New("no responders")
	if err := pub.Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestSubjectSanitizesTokens(t *testing.T) {
	got := Subject(&domain.OutboxEvent{Store: "", EventType: "a.b*c"})
	if got != "custody.events._.a_b_c" {
		t.Fatalf("unexpected subject %q", got)
	}
}

type stubWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &stubWriter{}
	pub := newKafkaPublisherWithWriter(w)

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "exchange/agreement/7/1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 3 || string(msg.Headers[1].Value) != domain.EventTypeAgreementConfirmed {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	if err := pub.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisStreamPublisher(client, "", 0)
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	entries, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	if entries[0].Values["event_type"] != domain.EventTypeAgreementConfirmed || entries[0].Values["payload"] != `{"amount":"5"}` {
		t.Fatalf("unexpected entry %+v", entries[0].Values)
	}
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(zerolog.Nop())
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}
