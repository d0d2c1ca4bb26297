package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Gateway is the external turn processor. Implementations should wrap
// failures in ErrGatewayUnavailable, ErrMalformedResponse or a *GatewayError;
// anything else is treated as unavailable.
type Gateway interface {
	Process(ctx context.Context, req TurnRequest) (*TurnResponse, error)
}

type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type TurnRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
	Phase               Phase          `json:"phase"`
	UserType            UserType       `json:"userType"`
}

// TurnResponse is a validated gateway reply. Nil fields were absent.
type TurnResponse struct {
	Reply     string
	Type      string
	Data      json.RawMessage
	Phase     *Phase
	Portfolio *Portfolio
	Matches   *[]Match
}

type wireResponse struct {
	Reply     *string         `json:"reply"`
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Phase     *string         `json:"phase,omitempty"`
	Portfolio *Portfolio      `json:"portfolio,omitempty"`
	Matches   *[]Match        `json:"matches,omitempty"`
	Error     *string         `json:"error,omitempty"`
}

// ParseResponse decodes and validates a gateway body. An error field wins
// over everything else.
func ParseResponse(raw []byte) (*TurnResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		// still honour an error field when the rest is garbage
		var probe struct {
			Error *string `json:"error"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Error != nil {
			return nil, &GatewayError{Message: *probe.Error}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if w.Error != nil {
		return nil, &GatewayError{Message: *w.Error}
	}
	if w.Reply == nil {
		return nil, fmt.Errorf("%w: missing reply", ErrMalformedResponse)
	}

	resp := &TurnResponse{
		Reply:     *w.Reply,
		Type:      w.Type,
		Data:      w.Data,
		Portfolio: w.Portfolio,
		Matches:   w.Matches,
	}
	if w.Phase != nil {
		p := Phase(*w.Phase)
		resp.Phase = &p
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Validate checks the fixed artifact shapes. Every gateway response passes
// through here before it can touch a session.
func (r *TurnResponse) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil response", ErrMalformedResponse)
	}
	if strings.TrimSpace(r.Reply) == "" {
		return fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}
	if r.Phase != nil && !r.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrMalformedResponse, *r.Phase)
	}
	if r.Matches != nil {
		if err := validateMatches(*r.Matches); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

func (r *TurnResponse) metadata() *Metadata {
	data := bytes.TrimSpace(r.Data)
	if bytes.Equal(data, []byte("null")) {
		data = nil
	}
	if r.Type == "" && len(data) == 0 {
		return nil
	}
	return &Metadata{Type: r.Type, Data: canonicalJSON(data)}
}

// MarshalJSON writes the wire shape, which the HTTP gateway stubs in tests
// and the LLM prompt examples rely on.
func (r TurnResponse) MarshalJSON() ([]byte, error) {
	w := wireResponse{
		Reply:     &r.Reply,
		Type:      r.Type,
		Data:      r.Data,
		Portfolio: r.Portfolio,
		Matches:   r.Matches,
	}
	if r.Phase != nil {
		p := string(*r.Phase)
		w.Phase = &p
	}
	return json.Marshal(w)
}
