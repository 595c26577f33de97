package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"battlecards-backend/internal/config"
	"battlecards-backend/internal/errors"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	defaultModel      = "claude-3-haiku-20240307"
	maxResponseTokens = 800
)

// AnthropicGenerator calls the Anthropic Messages API and parses the
// model's JSON reply into a Card.
type AnthropicGenerator struct {
	apiKey string
	model  string
	client *http.Client
}

func NewAnthropicGenerator() *AnthropicGenerator {
	return &AnthropicGenerator{
		apiKey: os.Getenv("ANTHROPIC_API_KEY"),
		model:  config.GetEnv("ANTHROPIC_MODEL", defaultModel),
		client: &http.Client{
			Timeout: config.GetEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),
		},
	}
}

func (g *AnthropicGenerator) Configured() bool {
	return g.apiKey != ""
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *AnthropicGenerator) GenerateCard(ctx context.Context, lines []TranscriptLine, force bool) (*Card, error) {
	if !g.Configured() {
		return nil, errors.UpstreamRejected("AI backend is not configured", nil)
	}

	body, err := json.Marshal(messagesRequest{
		Model:     g.model,
		MaxTokens: maxResponseTokens,
		Messages:  []message{{Role: "user", Content: buildPrompt(lines, force)}},
	})
	if err != nil {
		return nil, errors.Internal("failed to encode AI request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("failed to build AI request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.UpstreamTimeout("AI request timed out", err)
		}
		return nil, errors.UpstreamRejected("AI request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.UpstreamRejected("failed to read AI response", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.UpstreamRejected("malformed AI response", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("AI backend returned %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, parsed.Error.Message)
		}
		return nil, errors.UpstreamRejected(msg, nil)
	}
	if len(parsed.Content) == 0 {
		return nil, errors.UpstreamRejected("empty AI response", nil)
	}

	card, err := parseCardJSON(parsed.Content[0].Text)
	if err != nil {
		logrus.WithError(err).Warn("AI reply was not a parsable card")
		return nil, errors.UpstreamRejected("AI reply was not a parsable card", err)
	}
	if !card.Detected {
		logrus.WithField("reason", card.Reason).Debug("No card needed")
		return nil, nil
	}
	if card.ID == "" {
		prefix := "ai"
		if force {
			prefix = "manual"
		}
		card.ID = prefix + "-" + uuid.NewString()
	}
	return card, nil
}

// parseCardJSON extracts the card object from the model's text reply,
// tolerating code fences and stray prose around the JSON.
func parseCardJSON(text string) (*Card, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var card Card
	if err := json.Unmarshal([]byte(text[start:end+1]), &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func buildPrompt(lines []TranscriptLine, force bool) string {
	var b strings.Builder
	for _, line := range lines {
		if line.Speaker != nil {
			fmt.Fprintf(&b, "Speaker %d: ", *line.Speaker)
		}
		b.WriteString(line.Text)
		b.WriteByte('\n')
	}
	conversation := b.String()

	if force {
		return fmt.Sprintf(`You are a sales AI assistant helping a salesperson analyze selected conversation lines.

SELECTED CONVERSATION LINES:
%s
The salesperson has manually selected these lines and wants a battle card. You MUST create a helpful action plan even if the situation is not critical. Look for objections, questions, buying signals, or any opportunity to provide value.

Respond with this EXACT JSON format (use ONLY single quotes in HTML content):
{"detected": true, "id": "manual-<unique>", "title": "Brief description of the situation", "type": "pricing|technical|timeline|objection|opportunity|question", "response": {"title": "Action Plan", "content": "<h4>IMMEDIATE ACTIONS:</h4><ol><li><strong>Action:</strong> What to do or say</li></ol><h4>KEY POINTS:</h4><ul><li>Important insight</li></ul><p><strong>CLOSE:</strong> Specific question to ask</p>"}}

Keep the JSON on one line, no double quotes inside HTML, no apostrophes. Respond ONLY with valid JSON.`, conversation)
	}

	return fmt.Sprintf(`You are a sales AI that detects ONLY the most important moments in sales conversations.

CONVERSATION:
%s
Determine if there is ONE clear, actionable opportunity that requires immediate attention: a clear objection (pricing, timeline, technical), a buying signal, a specific question needing an expert response, or a chance to advance the sale.

If you detect something important, respond with this EXACT JSON format (use ONLY single quotes in HTML content):
{"detected": true, "id": "ai-<unique>", "title": "Brief description of what was detected", "type": "pricing|technical|timeline|objection|opportunity|question", "response": {"title": "Action Plan", "content": "<h4>IMMEDIATE ACTIONS:</h4><ol><li><strong>Action:</strong> What to do</li></ol><h4>KEY POINTS:</h4><ul><li>Insight</li></ul><p><strong>CLOSE:</strong> Question to ask</p>"}}

If nothing important is detected, respond: {"detected": false, "reason": "Brief explanation"}

Keep the JSON on one line, no double quotes inside HTML, no apostrophes. Be very selective; most conversations do not need cards. Respond ONLY with valid JSON.`, conversation)
}
