// Package realtime relays desktop microphone audio to the speech
// provider and streams transcript lines back over the same websocket.
package realtime

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"battlecards-backend/internal/config"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Relay bridges one client websocket to one live transcription session
// at the provider.
type Relay struct {
	apiKey string
	dialer *websocket.Dialer
}

func NewRelay() *Relay {
	return &Relay{
		apiKey: os.Getenv("DEEPGRAM_API_KEY"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.GetEnvDuration("TRANSCRIBE_DIAL_TIMEOUT", 10*time.Second),
		},
	}
}

func (r *Relay) Configured() bool {
	return r.apiKey != ""
}

// clientConn serializes writes; transcript and error frames come from
// different goroutines.
type clientConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// providerParams builds the live-transcription query. Mac clients
// capture raw two-channel PCM at 48kHz; everything else sends encoded
// audio the provider can sniff.
func providerParams(language string, diarize, macUser bool) url.Values {
	params := url.Values{}
	params.Set("diarize", boolStr(diarize))
	params.Set("no_delay", "true")
	if language == "" {
		language = "multi"
	}
	params.Set("language", language)

	if macUser {
		params.Set("model", "nova-2")
		params.Set("encoding", "linear16")
		params.Set("sample_rate", "48000")
		params.Set("channels", "2")
	} else {
		params.Set("model", "nova-3")
	}
	return params
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// transcriptResult is the subset of the provider's result frame we
// forward.
type transcriptResult struct {
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Speaker *int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// HandleTranscribe upgrades the request and pumps audio frames to the
// provider and transcript frames back until either side hangs up.
func (r *Relay) HandleTranscribe(c *gin.Context) {
	language := c.Query("language")
	diarize := c.Query("enableSpeakerDetection") == "true"
	macUser := c.Query("macUser") == "true"

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &clientConn{conn: ws}
	defer ws.Close()

	log := logrus.WithFields(logrus.Fields{
		"language": language,
		"diarize":  diarize,
		"mac_user": macUser,
	})
	log.Info("🎤 Transcription client connected")

	if !r.Configured() {
		client.writeJSON(gin.H{
			"type":    "error",
			"message": "Transcription service not configured",
		})
		return
	}

	providerURL := deepgramListenURL + "?" + providerParams(language, diarize, macUser).Encode()
	header := http.Header{"Authorization": []string{"Token " + r.apiKey}}
	provider, _, err := r.dialer.Dial(providerURL, header)
	if err != nil {
		log.WithError(err).Error("Failed to reach transcription provider")
		client.writeJSON(gin.H{
			"type":    "error",
			"message": "Transcription error occurred",
		})
		return
	}
	defer provider.Close()

	done := make(chan struct{})

	// Provider to client: parse result frames, forward non-empty text.
	go func() {
		defer close(done)
		for {
			_, payload, err := provider.ReadMessage()
			if err != nil {
				return
			}
			var result transcriptResult
			if err := json.Unmarshal(payload, &result); err != nil {
				continue
			}
			if len(result.Channel.Alternatives) == 0 {
				continue
			}
			alt := result.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			frame := gin.H{"type": "transcript", "text": alt.Transcript}
			if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
				frame["speaker"] = *alt.Words[0].Speaker
			}
			if err := client.writeJSON(frame); err != nil {
				return
			}
		}
	}()

	// Client to provider: raw audio frames.
	for {
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if err := provider.WriteMessage(msgType, payload); err != nil {
			break
		}
	}

	provider.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	provider.Close()
	<-done
	log.Info("🔴 Transcription client disconnected")
}
