package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// OpenRouterProvider uses the OpenAI-compatible chat completions endpoint.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	// SiteURL and AppName are OpenRouter's optional attribution headers.
	SiteURL  string
	AppName  string
	JSONMode bool
	Client   *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   strings.TrimSpace(apiKey),
		Model:    strings.TrimSpace(model),
		SiteURL:  siteURL,
		AppName:  appName,
		JSONMode: true,
		Client:   &http.Client{Timeout: providerTimeout},
	}
}

type responseFormat struct {
	Type string `json:"type"`
}

type openRouterChatReq struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		h.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		h.Set("X-Title", p.AppName)
	}
	return h
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.APIKey == "" {
		return "", errors.New("openrouter: api key is required")
	}
	if p.Model == "" {
		return "", errors.New("openrouter: model is required")
	}

	in := openRouterChatReq{Model: p.Model, Messages: messages}
	if p.JSONMode {
		in.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out openRouterChatResp
	if err := postJSON(ctx, p.Client, "openrouter", p.BaseURL+"/chat/completions", p.header(), in, &out); err != nil {
		return "", err
	}
	// OpenRouter can report upstream failures inside a 200
	if out.Error != nil && out.Error.Message != "" {
		return "", &ProviderError{Provider: "openrouter", Status: http.StatusBadGateway, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
