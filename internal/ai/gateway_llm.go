package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
)

// LLMGateway turns a chat-completion Provider into an assistant gateway by
// asking the model to answer in the gateway's response JSON. Replies that
// are not JSON are passed through as plain text.
type LLMGateway struct {
	provider Provider
	window   int
}

func NewLLMGateway(provider Provider, contextWindowSize int) *LLMGateway {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &LLMGateway{provider: provider, window: contextWindowSize}
}

func (g *LLMGateway) Process(ctx context.Context, turn chat.TurnRequest) (*chat.TurnResponse, error) {
	if g.provider == nil {
		return nil, fmt.Errorf("%w: no provider", chat.ErrGatewayUnavailable)
	}

	history := turn.ConversationHistory
	if len(history) > g.window {
		history = history[len(history)-g.window:]
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt(turn.UserType, turn.Phase)})
	for _, h := range history {
		msgs = append(msgs, Message{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: turn.Message})

	content, err := g.provider.Chat(ctx, msgs)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Refused() {
			return nil, &chat.GatewayError{Message: pe.Message}
		}
		return nil, fmt.Errorf("%w: %v", chat.ErrGatewayUnavailable, err)
	}
	return decodeModelReply(content)
}

func decodeModelReply(content string) (*chat.TurnResponse, error) {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
		return chat.ParseResponse([]byte(body))
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty model reply", chat.ErrMalformedResponse)
	}
	return &chat.TurnResponse{Reply: body}, nil
}

var phaseGoals = map[chat.Phase]string{
	chat.PhaseIntro:     "Greet the user, explain what you can help with and ask what they study or do.",
	chat.PhaseGathering: "Ask about skills, experience, projects and interests, one question at a time.",
	chat.PhasePortfolio: "Summarise what you learned into a portfolio and ask the user to confirm it.",
	chat.PhaseMatching:  "Explain that you are looking for internships that fit the portfolio.",
	chat.PhaseResults:   "Discuss the matches and answer follow-up questions. Refine matches when asked.",
}

func systemPrompt(userType chat.UserType, phase chat.Phase) string {
	audience := "a student looking for an internship"
	if userType == chat.UserCompany {
		audience = "a company recruiter describing an internship and looking for candidates"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the LynkSkill assistant talking to %s.\n", audience)
	fmt.Fprintf(&b, "Current phase: %s. %s\n", phase, phaseGoals[phase])
	b.WriteString("Phases in order: intro, gathering, portfolio, matching, results. Never go back to an earlier phase.\n")
	b.WriteString(`Answer with one JSON object only:
{"reply": string, "phase"?: string, "portfolio"?: {"headline"?: string, "about"?: string, "skills"?: [string], "interests"?: [string]}, "matches"?: [{"id": string, "title": string, "company": string, "matchPercentage": number, "skills"?: [string]}]}
Include "phase" only when moving forward. Include "portfolio" or "matches" only with the complete current value.`)
	return b.String()
}
