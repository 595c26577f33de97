package billing

import (
	"strings"

	"battlecards-backend/internal/models"
)

// MapProviderStatus translates Stripe's subscription status vocabulary
// into the internal enum. Unrecognized values map to incomplete, which
// never grants access. Swapping providers only touches this function.
func MapProviderStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active":
		return models.SubscriptionActive
	case "trialing", "on_trial":
		return models.SubscriptionTrialing
	case "past_due":
		return models.SubscriptionPastDue
	case "unpaid":
		return models.SubscriptionUnpaid
	case "canceled", "cancelled":
		return models.SubscriptionCancelled
	case "incomplete":
		return models.SubscriptionIncomplete
	case "incomplete_expired", "expired":
		return models.SubscriptionExpired
	default:
		return models.SubscriptionIncomplete
	}
}
