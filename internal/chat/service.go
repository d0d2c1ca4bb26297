package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTurnTimeout = 60 * time.Second

	apologyMessage = "Sorry, something went wrong while I was working on that. Your message is saved, please try again."
)

// Service drives turns against a Store: it appends the user's message,
// calls the gateway and applies the reply, unless the session moved on in
// the meantime.
type Service struct {
	store       *Store
	gateway     Gateway
	events      EventPublisher
	logger      *zap.Logger
	turnTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type ServiceOption func(*Service)

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

func WithTurnTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.turnTimeout = d
		}
	}
}

func NewService(store *Store, gateway Gateway, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		gateway:     gateway,
		logger:      zap.NewNop(),
		turnTimeout: defaultTurnTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		inFlight:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

// TurnResult describes what a finished turn did to its session.
type TurnResult struct {
	SessionID   string
	Outcome     TurnOutcome
	UserMessage Message
	// Reply is the assistant message that was appended; nil when discarded.
	Reply *Message
	// Failure holds the gateway error behind an apology, for logging only.
	Failure error
	// PersistErr is set when a write-through failed; memory is still current.
	PersistErr error
}

// SubmitTurn sends utterance to the gateway on behalf of sessionID, which
// must be the active session of the store's current user type. An empty
// sessionID targets the active session and creates one when there is none.
//
// Only precondition failures are returned as errors. Gateway failures end
// up as an apology message and TurnResult.Failure.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, utterance string) (*TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	var persistErr error
	if sessionID == "" {
		id, err := s.store.ActiveOrStart(ctx)
		if err != nil && !errors.Is(err, ErrPersistenceUnavailable) {
			return nil, err
		}
		persistErr = err
		sessionID = id
	}

	if !s.acquire(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrTurnInFlight, sessionID)
	}
	defer s.release(sessionID)

	token, prior, userMsg, err := s.store.beginTurn(ctx, sessionID, Message{Role: RoleUser, Content: utterance})
	if err != nil && !errors.Is(err, ErrPersistenceUnavailable) {
		return nil, err
	}
	persistErr = errors.Join(persistErr, err)

	req := TurnRequest{
		Message:             utterance,
		ConversationHistory: history(prior.Messages),
		Phase:               prior.Phase,
		UserType:            prior.UserType,
	}

	log := s.logger.With(
		zap.String("owner", s.store.Owner()),
		zap.String("session_id", sessionID),
		zap.Uint64("generation", token.Generation),
	)

	resp, gwErr := s.callGateway(ctx, req)

	res := &TurnResult{SessionID: sessionID, UserMessage: userMsg}
	var reply Message
	var applied bool
	if gwErr != nil {
		log.Warn("turn failed", zap.String("kind", FailureKind(gwErr)), zap.Error(gwErr))
		res.Failure = gwErr
		reply = Message{Role: RoleAssistant, Content: apologyMessage}
		applied, err = s.store.commit(ctx, token, func(sess *Session) {
			reply = s.store.appendLocked(sess, reply)
		})
	} else {
		reply = Message{Role: RoleAssistant, Content: resp.Reply, Metadata: resp.metadata()}
		applied, err = s.store.commit(ctx, token, func(sess *Session) {
			reply = s.store.appendLocked(sess, reply)
			s.applyResponse(log, sess, resp)
		})
	}
	res.PersistErr = errors.Join(persistErr, err)

	switch {
	case !applied:
		res.Outcome = OutcomeDiscarded
		log.Info("discarding stale turn response")
	case gwErr != nil:
		res.Outcome = OutcomeFailed
		res.Reply = &reply
	default:
		res.Outcome = OutcomeApplied
		res.Reply = &reply
	}

	s.publish(ctx, log, res)
	return res, nil
}

// TurnInFlight reports whether sessionID has a pending turn.
func (s *Service) TurnInFlight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[sessionID]
	return ok
}

// callGateway runs the request detached from the caller's cancellation:
// abandoning a turn only suppresses its effects.
func (s *Service) callGateway(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: no gateway configured", ErrGatewayUnavailable)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.turnTimeout)
	defer cancel()

	resp, err := s.gateway.Process(cctx, req)
	if err != nil {
		if errors.Is(err, ErrGatewayReported) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) applyResponse(log *zap.Logger, sess *Session, resp *TurnResponse) {
	if resp.Phase != nil {
		if err := setPhase(sess, *resp.Phase); err != nil {
			log.Warn("ignoring backwards phase from gateway",
				zap.String("current", string(sess.Phase)), zap.String("proposed", string(*resp.Phase)))
		}
	}
	if resp.Portfolio != nil {
		sess.Portfolio = resp.Portfolio.Clone()
	}
	if resp.Matches != nil {
		sess.Matches = cloneMatches(*resp.Matches)
		if sess.Matches == nil {
			sess.Matches = []Match{}
		}
	}
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, res *TurnResult) {
	if s.events == nil {
		return
	}
	ev := TurnEvent{
		Owner:       s.store.Owner(),
		SessionID:   res.SessionID,
		Outcome:     res.Outcome,
		FailureKind: FailureKind(res.Failure),
		At:          s.now(),
	}
	if sess, ok := s.store.Session(res.SessionID); ok {
		ev.UserType = sess.UserType
		ev.Phase = sess.Phase
		ev.Matches = len(sess.Matches)
	}
	if err := s.events.PublishTurnEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("publish turn event failed", zap.Error(err))
	}
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)
}

func history(msgs []Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}
