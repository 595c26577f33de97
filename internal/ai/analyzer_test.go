package ai

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	calls  int
	card   *Card
	err    error
	nextID int
}

func (f *fakeGenerator) GenerateCard(_ context.Context, _ []TranscriptLine, _ bool) (*Card, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.card == nil {
		return nil, nil
	}
	card := *f.card
	if card.ID == "" {
		f.nextID++
		card.ID = fmt.Sprintf("ai-%d", f.nextID)
	}
	return &card, nil
}

func (f *fakeGenerator) Configured() bool { return true }

func newTestAnalyzer(gen Generator) (*Analyzer, *time.Time) {
	a := NewAnalyzer(gen)
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return current }
	return a, &current
}

func ingest(t *testing.T, a *Analyzer, session, text string) (*Card, string) {
	t.Helper()
	card, msg, err := a.Ingest(context.Background(), session, TranscriptLine{Text: text})
	require.NoError(t, err)
	return card, msg
}

func TestAnalyzerWaitsForContext(t *testing.T) {
	gen := &fakeGenerator{card: &Card{Detected: true, Type: "pricing", Title: "Pricing objection"}}
	a, _ := newTestAnalyzer(gen)

	_, msg := ingest(t, a, "s1", "first line of conversation")
	assert.Equal(t, "Collecting more context...", msg)
	_, msg = ingest(t, a, "s1", "second line of conversation")
	assert.Equal(t, "Collecting more context...", msg)
	assert.Zero(t, gen.calls)

	card, _ := ingest(t, a, "s1", "third line triggers analysis")
	require.NotNil(t, card)
	assert.Equal(t, 1, gen.calls)
}

func TestAnalyzerIgnoresShortLines(t *testing.T) {
	gen := &fakeGenerator{}
	a, _ := newTestAnalyzer(gen)

	_, msg, err := a.Ingest(context.Background(), "s1", TranscriptLine{Text: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "Transcription too short", msg)
}

func TestAnalyzerSuppressesDuplicateCardType(t *testing.T) {
	gen := &fakeGenerator{card: &Card{Detected: true, Type: "pricing", Title: "Pricing objection"}}
	a, _ := newTestAnalyzer(gen)

	ingest(t, a, "s1", "first line of conversation")
	ingest(t, a, "s1", "second line of conversation")
	card, _ := ingest(t, a, "s1", "third line triggers analysis")
	require.NotNil(t, card)

	ingest(t, a, "s1", "fourth line of conversation")
	ingest(t, a, "s1", "fifth line of conversation")
	card, msg := ingest(t, a, "s1", "sixth line triggers analysis")
	assert.Nil(t, card)
	assert.Equal(t, "pricing card already shown", msg)
}

func TestAnalyzerSessionsAreIndependent(t *testing.T) {
	gen := &fakeGenerator{card: &Card{Detected: true, Type: "pricing", Title: "Pricing objection"}}
	a, _ := newTestAnalyzer(gen)

	ingest(t, a, "s1", "first line of conversation")
	ingest(t, a, "s1", "second line of conversation")
	card, _ := ingest(t, a, "s1", "third line triggers analysis")
	require.NotNil(t, card)

	// Same card type is fresh for another conversation.
	ingest(t, a, "s2", "first line of conversation")
	ingest(t, a, "s2", "second line of conversation")
	card, _ = ingest(t, a, "s2", "third line triggers analysis")
	require.NotNil(t, card)
}

func TestAnalyzerResetClearsDedupe(t *testing.T) {
	gen := &fakeGenerator{card: &Card{Detected: true, Type: "pricing", Title: "Pricing objection"}}
	a, _ := newTestAnalyzer(gen)

	ingest(t, a, "s1", "first line of conversation")
	ingest(t, a, "s1", "second line of conversation")
	card, _ := ingest(t, a, "s1", "third line triggers analysis")
	require.NotNil(t, card)

	a.Reset("s1")

	ingest(t, a, "s1", "first line of conversation")
	ingest(t, a, "s1", "second line of conversation")
	card, _ = ingest(t, a, "s1", "third line triggers analysis")
	require.NotNil(t, card)
}

func TestAnalyzerBufferIsBounded(t *testing.T) {
	gen := &fakeGenerator{}
	a, _ := newTestAnalyzer(gen)

	for i := 0; i < 40; i++ {
		ingest(t, a, "s1", fmt.Sprintf("conversation line number %d", i))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.LessOrEqual(t, len(a.sessions["s1"].buffer), bufferLimit)
}

func TestAnalyzerIntervalTriggersOffCadence(t *testing.T) {
	gen := &fakeGenerator{card: &Card{Detected: true, Type: "pricing", Title: "Pricing objection"}}
	a, current := newTestAnalyzer(gen)

	ingest(t, a, "s1", "first line of conversation")
	ingest(t, a, "s1", "second line of conversation")
	ingest(t, a, "s1", "third line triggers analysis")
	require.Equal(t, 1, gen.calls)

	// Fourth line is off the every-three cadence but past the interval.
	*current = current.Add(time.Minute)
	ingest(t, a, "s1", "fourth line of conversation")
	assert.Equal(t, 2, gen.calls)
}
