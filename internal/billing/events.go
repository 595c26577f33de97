package billing

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
)

// EventType is the internal billing event vocabulary.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionExpired   EventType = "subscription.expired"
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventCheckoutCompleted     EventType = "checkout.completed"
)

// Correlation carries the client-supplied references used to resolve the
// owning record the first time a provider subscription is seen.
type Correlation struct {
	SubscriptionID uint
	TenantID       uint
	UserID         uint
	Plan           string
	Email          string
}

// BillingEvent is the provider-neutral shape the reconciler consumes.
type BillingEvent struct {
	Type                    EventType
	ProviderSubscriptionRef string
	ProviderCustomerRef     string
	ProviderStatus          string
	PeriodStart             *time.Time
	PeriodEnd               *time.Time
	Quantity                *int64
	Correlation             Correlation
}

// ParseStripeEvent converts a verified Stripe webhook event into a
// BillingEvent. Event types outside the lifecycle vocabulary return
// (nil, nil) and are acknowledged without processing.
func ParseStripeEvent(event *stripe.Event) (*BillingEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, err
		}
		ev := &BillingEvent{
			Type:           EventCheckoutCompleted,
			ProviderStatus: "active",
			Correlation:    parseCorrelation(sess.ClientReferenceID, sess.Metadata),
		}
		if sess.Subscription != nil {
			ev.ProviderSubscriptionRef = sess.Subscription.ID
		}
		if sess.Customer != nil {
			ev.ProviderCustomerRef = sess.Customer.ID
		}
		if sess.CustomerEmail != "" {
			ev.Correlation.Email = sess.CustomerEmail
		}
		return ev, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, err
		}
		ev := &BillingEvent{
			ProviderSubscriptionRef: sub.ID,
			ProviderStatus:          string(sub.Status),
			Correlation:             parseCorrelation("", sub.Metadata),
		}
		switch event.Type {
		case "customer.subscription.created":
			ev.Type = EventSubscriptionCreated
		case "customer.subscription.deleted":
			ev.Type = EventSubscriptionCancelled
			ev.ProviderStatus = "canceled"
		default:
			ev.Type = EventSubscriptionUpdated
			if sub.Status == stripe.SubscriptionStatusIncompleteExpired {
				ev.Type = EventSubscriptionExpired
			}
		}
		if sub.Customer != nil {
			ev.ProviderCustomerRef = sub.Customer.ID
		}
		if sub.CurrentPeriodStart > 0 {
			t := time.Unix(sub.CurrentPeriodStart, 0)
			ev.PeriodStart = &t
		}
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0)
			ev.PeriodEnd = &t
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 {
			q := sub.Items.Data[0].Quantity
			ev.Quantity = &q
		}
		return ev, nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, err
		}
		ev := &BillingEvent{}
		if event.Type == "invoice.payment_succeeded" {
			ev.Type = EventPaymentSucceeded
			ev.ProviderStatus = "active"
		} else {
			ev.Type = EventPaymentFailed
			ev.ProviderStatus = "past_due"
		}
		if inv.Subscription != nil {
			ev.ProviderSubscriptionRef = inv.Subscription.ID
		}
		if inv.Customer != nil {
			ev.ProviderCustomerRef = inv.Customer.ID
		}
		if inv.PeriodEnd > 0 {
			t := time.Unix(inv.PeriodEnd, 0)
			ev.PeriodEnd = &t
		}
		return ev, nil
	}

	return nil, nil
}

// parseCorrelation extracts owner references from checkout metadata and
// the client reference id. A bare numeric client reference is treated as
// a tenant id, matching what the dashboard sends.
func parseCorrelation(clientRef string, metadata map[string]string) Correlation {
	var corr Correlation
	if v := metadata["subscription_id"]; v != "" {
		corr.SubscriptionID = parseUint(v)
	}
	if v := metadata["tenant_id"]; v != "" {
		corr.TenantID = parseUint(v)
	}
	if v := metadata["user_id"]; v != "" {
		corr.UserID = parseUint(v)
	}
	corr.Plan = metadata["plan"]
	corr.Email = metadata["email"]
	if corr.TenantID == 0 && corr.SubscriptionID == 0 && corr.UserID == 0 && clientRef != "" {
		corr.TenantID = parseUint(clientRef)
	}
	return corr
}

func parseUint(s string) uint {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}
