package chat

import "errors"

var (
	// Gateway failures. They never escape SubmitTurn; they only show up as
	// the apology message and TurnResult.Failure.
	ErrGatewayUnavailable = errors.New("assistant gateway unavailable")
	ErrMalformedResponse  = errors.New("malformed gateway response")
	ErrGatewayReported    = errors.New("gateway reported an error")

	// ErrPersistenceUnavailable is returned after an in-memory mutation has
	// been applied but could not be written through. Memory stays authoritative.
	ErrPersistenceUnavailable = errors.New("session persistence unavailable")
	ErrUnknownSession         = errors.New("unknown session")

	ErrEmptyUtterance   = errors.New("utterance is empty")
	ErrTurnInFlight     = errors.New("a turn is already in flight for this session")
	ErrSessionNotActive = errors.New("session is not the active session")
	ErrInvalidUserType  = errors.New("invalid user type")
	ErrInvalidName      = errors.New("invalid session name")
	ErrPhaseRegression  = errors.New("phase cannot move backwards")
)

// GatewayError carries the message from a response whose error field was set.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return "gateway error: " + e.Message
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayReported
}

// FailureKind names a gateway failure for logs and turn events.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGatewayReported):
		return "gateway_reported_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	default:
		return "gateway_unavailable"
	}
}
