package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
)

const maxGatewayBody = 1 << 20

// HTTPGateway posts turns to a remote assistant service.
type HTTPGateway struct {
	URL    string
	Client *http.Client
}

func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGateway{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Process(ctx context.Context, turn chat.TurnRequest) (*chat.TurnResponse, error) {
	if g.Client == nil {
		return nil, fmt.Errorf("%w: http client is nil", chat.ErrGatewayUnavailable)
	}
	if g.URL == "" {
		return nil, fmt.Errorf("%w: gateway url is empty", chat.ErrGatewayUnavailable)
	}
	if turn.ConversationHistory == nil {
		turn.ConversationHistory = []chat.HistoryEntry{}
	}

	b, err := json.Marshal(turn)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", chat.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// a JSON error body is the gateway talking; anything else is transport
		if _, perr := chat.ParseResponse(body); errors.Is(perr, chat.ErrGatewayReported) {
			return nil, perr
		}
		return nil, fmt.Errorf("%w: status %d", chat.ErrGatewayUnavailable, resp.StatusCode)
	}
	return chat.ParseResponse(body)
}
