package port

import (
	"context"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishUserVerified(ctx context.Context, event domain.UserVerifiedEvent) error
	PublishPlanAssigned(ctx context.Context, event domain.PlanAssignedEvent) error
}
