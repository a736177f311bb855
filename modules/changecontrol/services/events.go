package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
)

// TransitionedEvent is published after a workflow operation commits with a
// status change. Subscribers get at-most-once, post-commit delivery.
type TransitionedEvent struct {
	RequestID      uuid.UUID
	Operation      string
	PreviousStatus request.Status
	NewStatus      request.Status
	ActorID        uuid.UUID
	OccurredAt     time.Time
}
