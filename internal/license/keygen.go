package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// License keys are human-shareable: two 9-character groups from an
// unambiguous uppercase alphabet, prefixed "BC-". The alphabet drops
// 0/O and 1/I so keys survive being read aloud.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var keyPattern = regexp.MustCompile(`^BC-[A-Z2-9]{9}-[A-Z2-9]{9}$`)

// GenerateLicenseKey produces a fresh key. Uniqueness is enforced by the
// caller checking the key index before inserting.
func GenerateLicenseKey() (string, error) {
	groups := make([]string, 2)
	for i := range groups {
		group, err := randomGroup(9)
		if err != nil {
			return "", fmt.Errorf("generate license key: %w", err)
		}
		groups[i] = group
	}
	return "BC-" + strings.Join(groups, "-"), nil
}

func randomGroup(length int) (string, error) {
	entropy := make([]byte, length)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	chars := make([]byte, length)
	for i, b := range entropy {
		chars[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(chars), nil
}

// ValidKeyFormat reports whether a string is shaped like a license key,
// letting handlers reject garbage before touching the store.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(strings.ToUpper(strings.TrimSpace(key)))
}

// NormalizeKey uppercases and trims a key for lookup.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
