package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	providerTimeout = 90 * time.Second
	maxErrorBody    = 4 << 10
)

// Message is one chat-completion message sent to an LLM provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a plain chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ProviderError is a non-2xx answer from a provider. Message is the
// provider's own explanation when it sent one.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Refused reports a client-side rejection (quota, bad request) that the user
// can be told about, as opposed to the provider being down.
func (e *ProviderError) Refused() bool {
	return e.Status >= 400 && e.Status < 500 && e.Message != ""
}

// postJSON sends in as JSON and decodes a 2xx body into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, in, out any) error {
	if client == nil {
		return fmt.Errorf("%s: http client is nil", provider)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{Provider: provider, Status: resp.StatusCode, Message: errorText(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorText pulls a message out of the common error body shapes:
// {"error":"..."}, {"error":{"message":"..."}} or plain text.
func errorText(body []byte) string {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && len(probe.Error) > 0 {
		var s string
		if json.Unmarshal(probe.Error, &s) == nil {
			return strings.TrimSpace(s)
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(probe.Error, &obj) == nil {
			return strings.TrimSpace(obj.Message)
		}
	}
	return strings.TrimSpace(string(body))
}
