package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPartitionNotFound is returned by adapters when nothing was stored yet.
var ErrPartitionNotFound = errors.New("partition not found")

// PartitionKey addresses one durable record: all sessions of one owner for
// one user type.
type PartitionKey struct {
	Owner    string
	UserType UserType
}

func (k PartitionKey) String() string {
	return k.Owner + ":" + string(k.UserType)
}

// PartitionStore is the durable key-value backend. Save must replace the
// whole record atomically.
type PartitionStore interface {
	Load(ctx context.Context, key PartitionKey) ([]byte, error)
	Save(ctx context.Context, key PartitionKey, data []byte) error
}

// Partition is the persisted shape of a user type's session list.
type Partition struct {
	Sessions        []Session `json:"sessions"`
	ActiveSessionID *string   `json:"activeSessionId"`
}

func EncodePartition(p Partition) ([]byte, error) {
	if p.Sessions == nil {
		p.Sessions = []Session{}
	}
	return json.Marshal(p)
}

// DecodePartition parses and validates a stored record for userType.
// Callers treat any error as an empty partition.
func DecodePartition(data []byte, userType UserType) (Partition, error) {
	var p Partition
	if err := json.Unmarshal(data, &p); err != nil {
		return Partition{}, fmt.Errorf("decode partition: %w", err)
	}
	if err := p.validate(userType); err != nil {
		return Partition{}, err
	}
	if p.Sessions == nil {
		p.Sessions = []Session{}
	}
	return p, nil
}

func (p Partition) validate(userType UserType) error {
	seen := make(map[string]struct{}, len(p.Sessions))
	for i := range p.Sessions {
		s := &p.Sessions[i]
		if s.ID == "" {
			return fmt.Errorf("session %d: missing id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("session %s: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.UserType != userType {
			return fmt.Errorf("session %s: user type %q in %q partition", s.ID, s.UserType, userType)
		}
		if !s.Phase.Valid() {
			return fmt.Errorf("session %s: invalid phase %q", s.ID, s.Phase)
		}
		if s.Messages == nil {
			s.Messages = []Message{}
		}
		msgIDs := make(map[string]struct{}, len(s.Messages))
		for _, m := range s.Messages {
			if m.Role != RoleUser && m.Role != RoleAssistant {
				return fmt.Errorf("session %s: message %s has role %q", s.ID, m.ID, m.Role)
			}
			if _, dup := msgIDs[m.ID]; dup || m.ID == "" {
				return fmt.Errorf("session %s: bad message id %q", s.ID, m.ID)
			}
			msgIDs[m.ID] = struct{}{}
		}
		if err := validateMatches(s.Matches); err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	if p.ActiveSessionID != nil {
		if _, ok := seen[*p.ActiveSessionID]; !ok {
			return fmt.Errorf("active session %q not in partition", *p.ActiveSessionID)
		}
	}
	return nil
}

func validateMatches(matches []Match) error {
	for i, m := range matches {
		if m.ID == "" || m.Title == "" || m.Company == "" {
			return fmt.Errorf("match %d: id, title and company are required", i)
		}
		if m.MatchPercentage < 0 || m.MatchPercentage > 100 {
			return fmt.Errorf("match %s: percentage %v out of range", m.ID, m.MatchPercentage)
		}
	}
	return nil
}
