package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	DispatchInitiated = "initiated"
	DispatchCompleted = "completed"
	DispatchFailed    = "failed"
)

// DispatchAttempt records a single delivery attempt of the finalized artifact.
// Attempts are append-only; a prior attempt is never mutated by a retry.
type DispatchAttempt struct {
	Id                 uuid.UUID
	SessionId          uuid.UUID
	Status             string
	ConfirmationNumber string
	Errors             []string
	CreatedAt          time.Time
}
