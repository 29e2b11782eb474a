package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	TopicUserRegistered = "user.registered"
	TopicUserVerified   = "user.verified"
	TopicPlanAssigned   = "credits.plan_assigned"
)

// EventPublisher implements port.EventPublisher on top of a Kafka producer.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		Email        string    `json:"email"`
		Name         string    `json:"name"`
		Provider     string    `json:"provider"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		UserID:       event.UserID,
		Email:        event.Email,
		Name:         event.Name,
		Provider:     string(event.Provider),
		RegisteredAt: event.RegisteredAt.UTC(),
	}
	return p.publish(ctx, event.EventID, TopicUserRegistered, event.UserID, event.RegisteredAt, payload)
}

func (p *EventPublisher) PublishUserVerified(ctx context.Context, event domain.UserVerifiedEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		Email      string    `json:"email"`
		VerifiedAt time.Time `json:"verified_at"`
	}{
		UserID:     event.UserID,
		Email:      event.Email,
		VerifiedAt: event.VerifiedAt.UTC(),
	}
	return p.publish(ctx, event.EventID, TopicUserVerified, event.UserID, event.VerifiedAt, payload)
}

func (p *EventPublisher) PublishPlanAssigned(ctx context.Context, event domain.PlanAssignedEvent) error {
	payload := struct {
		UserID           string    `json:"user_id"`
		PlanID           string    `json:"plan_id"`
		GenerationsLimit int       `json:"generations_limit"`
		EditsLimit       int       `json:"edits_limit"`
		PaymentRef       *string   `json:"payment_ref,omitempty"`
		AssignedAt       time.Time `json:"assigned_at"`
		ExpiresAt        time.Time `json:"expires_at"`
	}{
		UserID:           event.UserID,
		PlanID:           event.PlanID,
		GenerationsLimit: event.GenerationsLimit,
		EditsLimit:       event.EditsLimit,
		PaymentRef:       event.PaymentRef,
		AssignedAt:       event.AssignedAt.UTC(),
		ExpiresAt:        event.ExpiresAt.UTC(),
	}
	return p.publish(ctx, event.EventID, TopicPlanAssigned, event.UserID, event.AssignedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
