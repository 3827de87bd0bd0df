package eventpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/iho/custody/internal/domain"
)

// SubjectPrefix is the root of every outbox subject:
// custody.events.{store}.{event_type}.
const SubjectPrefix = "custody.events"

// StreamName is the JetStream stream holding outbox events.
const StreamName = "CUSTODY_EVENTS"

type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes events to NATS JetStream. The event id is sent as
// the message id so a redelivered event is dropped by the stream.
type NATSPublisher struct {
	js jetStreamPublisher
}

// NewNATSPublisher creates a new NATSPublisher.
func NewNATSPublisher(js jetStreamPublisher) *NATSPublisher {
	return &NATSPublisher{js: js}
}

// Publish sends event to its subject.
func (p *NATSPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, Subject(event), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}
	return nil
}

// Subject returns the NATS subject of event.
func Subject(event *domain.OutboxEvent) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(event.Store), subjectToken(event.EventType))
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// EnsureStream creates or updates the outbox stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
