package ai

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the card generation surface to the desktop client.
type Handlers struct {
	analyzer *Analyzer
}

func NewHandlers(analyzer *Analyzer) *Handlers {
	return &Handlers{analyzer: analyzer}
}

// sessionKey scopes analysis state to the authenticated user, and to a
// single conversation when the client names one.
func sessionKey(c *gin.Context, sessionID string) string {
	key := fmt.Sprintf("user:%d", c.GetUint("user_id"))
	if sessionID != "" {
		key = fmt.Sprintf("%s:%s", key, sessionID)
	}
	return key
}

// HandleAnalyze ingests one transcript line. Analysis errors come back
// as 200 with an empty card list; the desktop keeps transcribing either
// way and a failed batch is not worth interrupting the conversation.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	var req struct {
		Transcription string `json:"transcription" binding:"required"`
		Speaker       *int   `json:"speaker"`
		SessionID     string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if !h.analyzer.Configured() {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"cards":   []Card{},
			"message": "AI analysis not configured",
		})
		return
	}

	card, message, err := h.analyzer.Ingest(c.Request.Context(), sessionKey(c, req.SessionID), TranscriptLine{
		Text:    req.Transcription,
		Speaker: req.Speaker,
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"cards":   []Card{},
			"error":   "AI analysis failed: " + err.Error(),
		})
		return
	}

	cards := []Card{}
	if card != nil {
		cards = append(cards, *card)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cards":   cards,
		"message": message,
	})
}

// HandleManualGenerate forces a card from lines the user selected.
func (h *Handlers) HandleManualGenerate(c *gin.Context) {
	var req struct {
		SelectedLines []TranscriptLine `json:"selected_lines" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Selected lines are required"})
		return
	}

	card, err := h.analyzer.ManualGenerate(c.Request.Context(), req.SelectedLines)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   "AI analysis failed: " + err.Error(),
		})
		return
	}
	if card == nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   "AI could not generate a card from selected lines",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"card":    card,
		"message": "Manual card generated successfully",
	})
}

// HandleReset clears the conversation state for a fresh start.
func (h *Handlers) HandleReset(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	// Body is optional; an empty reset clears the default session.
	_ = c.ShouldBindJSON(&req)

	h.analyzer.Reset(sessionKey(c, req.SessionID))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cards reset for new conversation",
	})
}
