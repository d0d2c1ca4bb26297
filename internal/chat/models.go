package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

type UserType string

const (
	UserStudent UserType = "student"
	UserCompany UserType = "company"
)

func (u UserType) Valid() bool {
	return u == UserStudent || u == UserCompany
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metadata echoes the typed payload a gateway attached to a reply. The store
// never interprets it.
type Metadata struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// canonicalJSON returns raw in the form encoding/json writes a RawMessage:
// compact with <, > and & escaped. Stored payloads then survive a save and
// reload byte for byte. Invalid JSON is returned unchanged.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	var out bytes.Buffer
	json.HTMLEscape(&out, compact.Bytes())
	return out.Bytes()
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Portfolio is a snapshot of what the assistant has extracted so far.
// Empty fields mean "not yet known".
type Portfolio struct {
	Headline  string   `json:"headline,omitempty"`
	About     string   `json:"about,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

type Match struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Company         string   `json:"company"`
	MatchPercentage float64  `json:"matchPercentage"`
	Skills          []string `json:"skills,omitempty"`
}

type Session struct {
	ID        string     `json:"id"`
	UserType  UserType   `json:"userType"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	Phase     Phase      `json:"phase"`
	Messages  []Message  `json:"messages"`
	Portfolio *Portfolio `json:"portfolio"`
	Matches   []Match    `json:"matches"`
}

// Clone returns a deep copy so callers can never reach the store's state.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	out.Portfolio = s.Portfolio.Clone()
	out.Matches = cloneMatches(s.Matches)
	return out
}

func (m Message) clone() Message {
	if m.Metadata != nil {
		md := *m.Metadata
		md.Data = append(json.RawMessage(nil), m.Metadata.Data...)
		m.Metadata = &md
	}
	return m
}

func (p *Portfolio) Clone() *Portfolio {
	if p == nil {
		return nil
	}
	out := *p
	out.Skills = cloneStrings(p.Skills)
	out.Interests = cloneStrings(p.Interests)
	return &out
}

func cloneMatches(in []Match) []Match {
	if in == nil {
		return nil
	}
	out := make([]Match, len(in))
	for i, m := range in {
		m.Skills = cloneStrings(m.Skills)
		out[i] = m
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
