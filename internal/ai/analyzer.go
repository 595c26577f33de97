package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	bufferLimit       = 12
	analyzeEveryLines = 3
	analyzeInterval   = 30 * time.Second
	minTranscriptLen  = 5
	sessionIdleExpiry = 2 * time.Hour
)

// Analyzer batches transcript lines per conversation and decides when a
// batch is worth an AI call. Each session carries its own buffer and
// dedupe sets, so concurrent conversations never see each other's cards.
type Analyzer struct {
	gen Generator

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

type session struct {
	buffer       []TranscriptLine
	lastAnalysis time.Time
	lastSeen     time.Time
	shownIDs     map[string]struct{}
	shownTypes   map[string]struct{}
}

func NewAnalyzer(gen Generator) *Analyzer {
	return &Analyzer{
		gen:      gen,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

func newSession() *session {
	return &session{
		shownIDs:   make(map[string]struct{}),
		shownTypes: make(map[string]struct{}),
	}
}

// Ingest adds one transcript line to the session buffer and, when the
// cadence allows, runs analysis. The returned message explains an empty
// card result to the client.
func (a *Analyzer) Ingest(ctx context.Context, sessionID string, line TranscriptLine) (*Card, string, error) {
	line.Text = strings.TrimSpace(line.Text)
	if len(line.Text) < minTranscriptLen {
		return nil, "Transcription too short", nil
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = a.now()
	}

	a.mu.Lock()
	a.sweepLocked()
	s, ok := a.sessions[sessionID]
	if !ok {
		s = newSession()
		a.sessions[sessionID] = s
	}
	s.lastSeen = a.now()

	s.buffer = append(s.buffer, line)
	if len(s.buffer) > bufferLimit {
		s.buffer = s.buffer[len(s.buffer)-bufferLimit:]
	}

	now := a.now()
	shouldAnalyze := len(s.buffer) >= analyzeEveryLines &&
		(len(s.buffer)%analyzeEveryLines == 0 || now.Sub(s.lastAnalysis) > analyzeInterval)
	if !shouldAnalyze {
		a.mu.Unlock()
		return nil, "Collecting more context...", nil
	}

	s.lastAnalysis = now
	snapshot := make([]TranscriptLine, len(s.buffer))
	copy(snapshot, s.buffer)
	a.mu.Unlock()

	// The AI call runs outside the lock so one slow conversation does
	// not stall the rest.
	card, err := a.gen.GenerateCard(ctx, snapshot, false)
	if err != nil {
		return nil, "", err
	}
	if card == nil {
		return nil, "No actionable opportunity detected", nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := s.shownIDs[card.ID]; seen {
		return nil, "Card already shown", nil
	}
	if _, seen := s.shownTypes[card.Type]; seen {
		return nil, fmt.Sprintf("%s card already shown", card.Type), nil
	}
	s.shownIDs[card.ID] = struct{}{}
	s.shownTypes[card.Type] = struct{}{}
	return card, fmt.Sprintf("AI card generated: %s", card.Type), nil
}

// ManualGenerate forces a card from lines the user selected by hand. It
// bypasses cadence and dedupe entirely.
func (a *Analyzer) ManualGenerate(ctx context.Context, lines []TranscriptLine) (*Card, error) {
	return a.gen.GenerateCard(ctx, lines, true)
}

// Reset discards a session's buffer and dedupe state for a new
// conversation.
func (a *Analyzer) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// Configured reports whether the backing generator can serve requests.
func (a *Analyzer) Configured() bool {
	return a.gen.Configured()
}

// sweepLocked drops sessions idle past expiry. Caller holds the lock.
func (a *Analyzer) sweepLocked() {
	cutoff := a.now().Add(-sessionIdleExpiry)
	for id, s := range a.sessions {
		if s.lastSeen.Before(cutoff) && !s.lastSeen.IsZero() {
			delete(a.sessions, id)
		}
	}
}
