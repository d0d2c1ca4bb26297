package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	placeholderPrefix = "New chat"
	maxNameLength     = 80
)

// Token identifies one turn against one session. A response is only applied
// while its token is still the session's latest.
type Token struct {
	SessionID  string
	Generation uint64
}

type partitionState struct {
	sessions []*Session // insertion order
	active   string
}

// Store owns the sessions of one owner (one browsing context), split into a
// partition per user type. Every mutation is written through to the
// PartitionStore before it returns; a failed write is reported but the
// in-memory state stays authoritative.
type Store struct {
	mu          sync.Mutex
	backend     PartitionStore
	owner       string
	current     UserType
	partitions  map[UserType]*partitionState
	generations map[string]uint64

	logger         *zap.Logger
	now            func() time.Time
	lastPersistErr error
}

type StoreOption func(*Store)

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenStore rehydrates both partitions of owner. Unreadable partitions come
// back empty; the failure is logged and kept in LastPersistenceError.
func OpenStore(ctx context.Context, backend PartitionStore, owner string, userType UserType, opts ...StoreOption) (*Store, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("store owner is required")
	}
	if !userType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserType, userType)
	}
	if backend == nil {
		return nil, errors.New("partition store is nil")
	}

	s := &Store{
		backend:     backend,
		owner:       owner,
		current:     userType,
		partitions:  make(map[UserType]*partitionState, 2),
		generations: make(map[string]uint64),
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("owner", owner))

	for _, ut := range []UserType{UserStudent, UserCompany} {
		s.partitions[ut] = s.rehydrate(ctx, ut)
	}
	return s, nil
}

func (s *Store) rehydrate(ctx context.Context, ut UserType) *partitionState {
	key := PartitionKey{Owner: s.owner, UserType: ut}
	ps := &partitionState{}

	raw, err := s.backend.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrPartitionNotFound) {
			s.lastPersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
			s.logger.Warn("load partition failed, starting empty",
				zap.String("user_type", string(ut)), zap.Error(err))
		}
		return ps
	}

	p, err := DecodePartition(raw, ut)
	if err != nil {
		s.logger.Warn("discarding unreadable partition",
			zap.String("user_type", string(ut)), zap.Error(err))
		return ps
	}

	for i := range p.Sessions {
		sess := p.Sessions[i]
		ps.sessions = append(ps.sessions, &sess)
	}
	if p.ActiveSessionID != nil {
		ps.active = *p.ActiveSessionID
	} else if latest := mostRecent(ps.sessions); latest != nil {
		ps.active = latest.ID
	}
	return ps
}

// UserType is the partition LoadSession and ActiveSession operate on.
func (s *Store) UserType() UserType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) Owner() string { return s.owner }

// SwitchUserType makes ut the current partition. The previously active
// session stops accepting late responses.
func (s *Store) SwitchUserType(ut UserType) error {
	if !ut.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidUserType, ut)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ut == s.current {
		return nil
	}
	s.bumpLocked(s.partitions[s.current].active)
	s.current = ut
	return nil
}

// ListSessions returns copies ordered newest first.
func (s *Store) ListSessions(ut UserType) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.partitions[ut]
	if !ok {
		return nil
	}
	ordered := make([]*Session, 0, len(ps.sessions))
	for i := len(ps.sessions) - 1; i >= 0; i-- {
		ordered = append(ordered, ps.sessions[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})
	out := make([]Session, 0, len(ordered))
	for _, sess := range ordered {
		out = append(out, sess.Clone())
	}
	return out
}

// ActiveSessionID returns the active id of ut, or "" when it has no sessions.
func (s *Store) ActiveSessionID(ut UserType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.partitions[ut]; ok {
		return ps.active
	}
	return ""
}

func (s *Store) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.partitions[s.current]
	if ps.active == "" {
		return Session{}, false
	}
	_, sess := s.findLocked(ps.active)
	if sess == nil {
		return Session{}, false
	}
	return sess.Clone(), true
}

func (s *Store) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	if sess == nil {
		return Session{}, false
	}
	return sess.Clone(), true
}

// StartNewSession creates a session at intro, makes it active and persists.
// An ErrPersistenceUnavailable error still comes with a usable session.
func (s *Store) StartNewSession(ctx context.Context, ut UserType) (Session, error) {
	if !ut.Valid() {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidUserType, ut)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.startLocked(ut)
	return sess.Clone(), s.persistLocked(ctx, ut)
}

// ActiveOrStart returns the active session id of the current user type,
// starting a session when the partition has none. Check and create happen
// under one lock.
func (s *Store) ActiveOrStart(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ut := s.current
	if id := s.partitions[ut].active; id != "" {
		return id, nil
	}
	sess := s.startLocked(ut)
	return sess.ID, s.persistLocked(ctx, ut)
}

func (s *Store) startLocked(ut UserType) *Session {
	id, err := NewSessionID()
	if err != nil {
		// crypto/rand failure; fall back to a time-derived id
		id = fmt.Sprintf("s%d", s.now().UnixNano())
	}
	now := s.now()
	sess := &Session{
		ID:        id,
		UserType:  ut,
		Name:      placeholderName(now),
		CreatedAt: now,
		Phase:     PhaseIntro,
		Messages:  []Message{},
	}

	ps := s.partitions[ut]
	s.bumpLocked(ps.active)
	if s.current != ut {
		s.bumpLocked(s.partitions[s.current].active)
	}
	ps.sessions = append(ps.sessions, sess)
	ps.active = sess.ID
	s.current = ut

	s.logger.Info("session started", zap.String("session_id", sess.ID), zap.String("user_type", string(ut)))
	return sess
}

// LoadSession activates id within the current user type.
func (s *Store) LoadSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.partitions[s.current]
	if indexOf(ps.sessions, id) < 0 {
		s.logger.Warn("load of unknown session", zap.String("session_id", id))
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if ps.active == id {
		return nil
	}
	s.bumpLocked(ps.active)
	ps.active = id
	return s.persistLocked(ctx, s.current)
}

// DeleteSession removes id. Deleting the active session hands the pointer to
// the most recently created survivor of the same user type.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ut, sess := s.findLocked(id)
	if sess == nil {
		s.logger.Warn("delete of unknown session", zap.String("session_id", id))
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	ps := s.partitions[ut]
	i := indexOf(ps.sessions, id)
	ps.sessions = append(ps.sessions[:i], ps.sessions[i+1:]...)
	delete(s.generations, id)

	if ps.active == id {
		ps.active = ""
		if latest := mostRecent(ps.sessions); latest != nil {
			ps.active = latest.ID
		}
	}
	s.logger.Info("session deleted", zap.String("session_id", id), zap.String("active", ps.active))
	return s.persistLocked(ctx, ut)
}

func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.Name = name
		return nil
	})
}

// AppendMessage adds m at the end of the transcript. Missing ids and
// timestamps are filled in.
func (s *Store) AppendMessage(ctx context.Context, id string, m Message) error {
	return s.update(ctx, id, func(sess *Session) error {
		s.appendLocked(sess, m)
		return nil
	})
}

func (s *Store) SetPhase(ctx context.Context, id string, phase Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", phase)
	}
	return s.update(ctx, id, func(sess *Session) error {
		return setPhase(sess, phase)
	})
}

// SetPortfolio replaces the portfolio snapshot wholesale; nil clears it.
func (s *Store) SetPortfolio(ctx context.Context, id string, p *Portfolio) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Portfolio = p.Clone()
		return nil
	})
}

// SetMatches replaces the ranked match list wholesale; nil clears it.
func (s *Store) SetMatches(ctx context.Context, id string, matches []Match) error {
	if err := validateMatches(matches); err != nil {
		return err
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.Matches = cloneMatches(matches)
		return nil
	})
}

// LastPersistenceError returns the most recent load or save failure, or nil
// once a later save succeeded.
func (s *Store) LastPersistenceError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// BeginTurn advances the generation of id and returns the token the
// response must still carry when it lands.
func (s *Store) BeginTurn(id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, sess := s.findLocked(id); sess == nil {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.generations[id]++
	return Token{SessionID: id, Generation: s.generations[id]}, nil
}

// IsCurrent reports whether t is still the latest token of a live session.
func (s *Store) IsCurrent(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCurrentLocked(t)
}

func (s *Store) isCurrentLocked(t Token) bool {
	if _, sess := s.findLocked(t.SessionID); sess == nil {
		return false
	}
	return s.generations[t.SessionID] == t.Generation
}

// commit runs fn against the token's session only if the token is still
// current, then persists once. ok is false when the token went stale.
func (s *Store) commit(ctx context.Context, t Token, fn func(*Session)) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrentLocked(t) {
		return false, nil
	}
	ut, sess := s.findLocked(t.SessionID)
	fn(sess)
	return true, s.persistLocked(ctx, ut)
}

func (s *Store) update(ctx context.Context, id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ut, sess := s.findLocked(id)
	if sess == nil {
		s.logger.Warn("mutation of unknown session", zap.String("session_id", id))
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.persistLocked(ctx, ut)
}

func (s *Store) appendLocked(sess *Session, m Message) Message {
	if m.ID == "" {
		m.ID = NewMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.Metadata != nil {
		md := *m.Metadata
		md.Data = canonicalJSON(md.Data)
		m.Metadata = &md
	}
	sess.Messages = append(sess.Messages, m.clone())
	return m
}

func setPhase(sess *Session, phase Phase) error {
	if !CanTransition(sess.Phase, phase) {
		return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, sess.Phase, phase)
	}
	sess.Phase = phase
	return nil
}

func (s *Store) bumpLocked(id string) {
	if id != "" {
		s.generations[id]++
	}
}

func (s *Store) findLocked(id string) (UserType, *Session) {
	if id == "" {
		return "", nil
	}
	for ut, ps := range s.partitions {
		if i := indexOf(ps.sessions, id); i >= 0 {
			return ut, ps.sessions[i]
		}
	}
	return "", nil
}

func (s *Store) persistLocked(ctx context.Context, ut UserType) error {
	ps := s.partitions[ut]
	p := Partition{Sessions: make([]Session, 0, len(ps.sessions))}
	for _, sess := range ps.sessions {
		p.Sessions = append(p.Sessions, sess.Clone())
	}
	if ps.active != "" {
		active := ps.active
		p.ActiveSessionID = &active
	}

	data, err := EncodePartition(p)
	if err == nil {
		err = s.backend.Save(ctx, PartitionKey{Owner: s.owner, UserType: ut}, data)
	}
	if err != nil {
		s.lastPersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		s.logger.Warn("persist partition failed, keeping in-memory state",
			zap.String("user_type", string(ut)), zap.Error(err))
		return s.lastPersistErr
	}
	s.lastPersistErr = nil
	return nil
}

func indexOf(sessions []*Session, id string) int {
	for i, sess := range sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

// mostRecent picks the latest createdAt; on ties the later insertion wins.
func mostRecent(sessions []*Session) *Session {
	var latest *Session
	for _, sess := range sessions {
		if latest == nil || !sess.CreatedAt.Before(latest.CreatedAt) {
			latest = sess
		}
	}
	return latest
}

func placeholderName(t time.Time) string {
	return placeholderPrefix + " " + t.Format("Jan 2 15:04")
}

// hasPlaceholderName reports whether sess still carries the exact name it
// was created with.
func hasPlaceholderName(sess *Session) bool {
	return sess.Name == placeholderName(sess.CreatedAt)
}

// beginTurn appends the user's message to the active session id, advances
// its generation and returns the token plus the transcript that preceded the
// message. The append is kept even when persisting it fails.
func (s *Store) beginTurn(ctx context.Context, id string, m Message) (Token, Session, Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ut, sess := s.findLocked(id)
	if sess == nil {
		return Token{}, Session{}, Message{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if ut != s.current || s.partitions[ut].active != id {
		return Token{}, Session{}, Message{}, fmt.Errorf("%w: %s", ErrSessionNotActive, id)
	}

	prior := sess.Clone()
	if len(sess.Messages) == 0 && hasPlaceholderName(sess) {
		sess.Name = topicName(m.Content)
	}
	m = s.appendLocked(sess, m)
	s.generations[id]++
	t := Token{SessionID: id, Generation: s.generations[id]}
	return t, prior, m, s.persistLocked(ctx, ut)
}

// topicName derives a session name from the opening utterance.
func topicName(utterance string) string {
	name := strings.Join(strings.Fields(utterance), " ")
	const limit = 40
	if r := []rune(name); len(r) > limit {
		name = strings.TrimSpace(string(r[:limit])) + "..."
	}
	return name
}
