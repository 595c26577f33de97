package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"battlecards-backend/internal/models"
)

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]string{
		"active":             models.SubscriptionActive,
		"ACTIVE":             models.SubscriptionActive,
		"trialing":           models.SubscriptionTrialing,
		"on_trial":           models.SubscriptionTrialing,
		"past_due":           models.SubscriptionPastDue,
		"unpaid":             models.SubscriptionUnpaid,
		"canceled":           models.SubscriptionCancelled,
		"cancelled":          models.SubscriptionCancelled,
		"incomplete":         models.SubscriptionIncomplete,
		"incomplete_expired": models.SubscriptionExpired,
		"expired":            models.SubscriptionExpired,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapProviderStatus(input), "input %q", input)
	}
}

func TestUnknownProviderStatusFailsClosed(t *testing.T) {
	for _, input := range []string{"", "paused", "something_new"} {
		got := MapProviderStatus(input)
		assert.False(t, models.IsAccessGranting(got), "input %q mapped to access-granting %q", input, got)
	}
}
