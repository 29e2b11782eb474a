package domain

import "time"

// UserRegisteredEvent represents the payload for user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Email        string
	Name         string
	Provider     AuthProvider
	RegisteredAt time.Time
}

// UserVerifiedEvent represents the payload for user.verified messages.
type UserVerifiedEvent struct {
	EventID    string
	UserID     string
	Email      string
	VerifiedAt time.Time
}

// PlanAssignedEvent represents the payload for credits.plan_assigned messages.
type PlanAssignedEvent struct {
	EventID          string
	UserID           string
	PlanID           string
	GenerationsLimit int
	EditsLimit       int
	PaymentRef       *string
	ExpiresAt        time.Time
	AssignedAt       time.Time
}
