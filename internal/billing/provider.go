package billing

import (
	"context"
	"time"
)

// Provider is the payment-processor boundary. Everything the lifecycle
// logic needs from Stripe goes through this interface so it can be faked
// in tests and swapped without touching the reconciler.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	UpdateSubscriptionQuantity(ctx context.Context, subscriptionRef string, quantity int64) error
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	GetSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error)
}

// CheckoutParams describes a hosted checkout session request.
type CheckoutParams struct {
	CustomerRef       string
	PriceID           string
	Quantity          int64
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// ProviderSubscription is a point-in-time snapshot of the provider's view
// of a subscription.
type ProviderSubscription struct {
	Ref         string
	CustomerRef string
	Status      string
	Quantity    int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}
