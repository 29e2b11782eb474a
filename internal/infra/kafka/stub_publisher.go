package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.logEvent(TopicUserRegistered, event.UserID, event.RegisteredAt,
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("provider", string(event.Provider)),
	)
	return nil
}

func (p *StubPublisher) PublishUserVerified(_ context.Context, event domain.UserVerifiedEvent) error {
	p.logEvent(TopicUserVerified, event.UserID, event.VerifiedAt,
		zap.String("email", logger.MaskEmail(event.Email)),
	)
	return nil
}

func (p *StubPublisher) PublishPlanAssigned(_ context.Context, event domain.PlanAssignedEvent) error {
	p.logEvent(TopicPlanAssigned, event.UserID, event.AssignedAt,
		zap.String("plan_id", event.PlanID),
		zap.Int("generations_limit", event.GenerationsLimit),
		zap.Int("edits_limit", event.EditsLimit),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
