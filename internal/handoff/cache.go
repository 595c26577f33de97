// Package handoff implements the short-lived token map used to hand an
// authenticated dashboard session over to the desktop app. The cache is
// a convenience, never a source of truth: losing it only forces the user
// to sign in again.
package handoff

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Data is the identity snapshot carried across the channel switch.
type Data struct {
	UserID    uint      `json:"user_id"`
	TenantID  uint      `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache stores handoff tokens for a bounded window. Take consumes: a
// token redeems at most once.
type Cache interface {
	Put(token string, data Data, ttl time.Duration) error
	Take(token string) (*Data, error)
}

// GenerateToken produces an opaque single-use handoff token.
func GenerateToken() (string, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("generate handoff token: %w", err)
	}
	return "hnd_" + base64.URLEncoding.EncodeToString(entropy), nil
}
