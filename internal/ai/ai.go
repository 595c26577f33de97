package ai

import (
	"context"
	"time"
)

// TranscriptLine is one utterance from the live transcript.
type TranscriptLine struct {
	Text      string    `json:"text"`
	Speaker   *int      `json:"speaker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Card is an actionable battle card surfaced to the salesperson.
type Card struct {
	Detected bool         `json:"detected"`
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Type     string       `json:"type"`
	Reason   string       `json:"reason,omitempty"`
	Response CardResponse `json:"response"`
}

type CardResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Generator produces a battle card from conversation context, or nil
// when nothing in the conversation warrants one. With force set the
// backend must produce a card even for unremarkable input.
type Generator interface {
	GenerateCard(ctx context.Context, lines []TranscriptLine, force bool) (*Card, error)
	Configured() bool
}
