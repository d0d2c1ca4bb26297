package chat

import (
	"context"
	"time"
)

type TurnOutcome string

const (
	OutcomeApplied   TurnOutcome = "applied"
	OutcomeFailed    TurnOutcome = "failed"
	OutcomeDiscarded TurnOutcome = "discarded"
)

// TurnEvent is emitted once per finished turn.
type TurnEvent struct {
	Owner       string      `json:"owner"`
	UserType    UserType    `json:"user_type"`
	SessionID   string      `json:"session_id"`
	Phase       Phase       `json:"phase,omitempty"`
	Outcome     TurnOutcome `json:"outcome"`
	FailureKind string      `json:"failure_kind,omitempty"`
	Matches     int         `json:"matches"`
	At          time.Time   `json:"at"`
}

// EventPublisher receives turn events. Publishing is best effort; errors are
// logged and never affect the session.
type EventPublisher interface {
	PublishTurnEvent(ctx context.Context, ev TurnEvent) error
}
