package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// OllamaProvider talks to a local Ollama server's /api/chat.
type OllamaProvider struct {
	BaseURL string
	Model   string
	// JSONMode constrains the reply to a JSON document.
	JSONMode bool
	Client   *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Model:    model,
		JSONMode: true,
		Client:   &http.Client{Timeout: providerTimeout},
	}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	in := ollamaChatReq{Model: p.Model, Messages: messages}
	if p.JSONMode {
		in.Format = "json"
	}

	var out ollamaChatResp
	if err := postJSON(ctx, p.Client, "ollama", p.BaseURL+"/api/chat", nil, in, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", errors.New("ollama: " + out.Error)
	}
	return out.Message.Content, nil
}
