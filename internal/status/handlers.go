package status

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/database"
)

// HandleGetStatusSummary is the public operational status endpoint the
// desktop client polls before opening a transcription session.
func HandleGetStatusSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "operational",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "battlecards-api",
		"services": gin.H{
			"database":      database.DB != nil,
			"billing":       os.Getenv("STRIPE_SECRET_KEY") != "",
			"ai":            os.Getenv("ANTHROPIC_API_KEY") != "",
			"transcription": os.Getenv("DEEPGRAM_API_KEY") != "",
		},
	})
}
