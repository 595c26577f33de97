package billing

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"

	"battlecards-backend/internal/errors"
)

// StripeProvider implements Provider against the Stripe API. Every call
// is bounded by callTimeout so a slow provider produces a typed failure
// instead of a hung request.
type StripeProvider struct {
	callTimeout time.Duration
}

func NewStripeProvider(secretKey string, callTimeout time.Duration) *StripeProvider {
	stripe.Key = secretKey
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &StripeProvider{callTimeout: callTimeout}
}

func (p *StripeProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.callTimeout)
}

func translateStripeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.UpstreamTimeout(operation, err)
	}
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) {
		return errors.UpstreamRejected(operation, err)
	}
	return errors.UpstreamRejected(operation, err)
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	cust, err := customer.New(params)
	if err != nil {
		return "", translateStripeError("create customer", err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	quantity := cp.Quantity
	if quantity < 1 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(cp.CustomerRef),
		SuccessURL: stripe.String(cp.SuccessURL),
		CancelURL:  stripe.String(cp.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	params.Context = ctx
	if cp.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(cp.ClientReferenceID)
	}
	if len(cp.Metadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: cp.Metadata,
		}
	}

	sess, err := session.New(params)
	if err != nil {
		return "", translateStripeError("create checkout session", err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) UpdateSubscriptionQuantity(ctx context.Context, subscriptionRef string, quantity int64) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, err := subscription.Get(subscriptionRef, getParams)
	if err != nil {
		return translateStripeError("get subscription", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return errors.UpstreamRejected("update subscription quantity", stderrors.New("subscription has no items"))
	}

	updateParams := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(sub.Items.Data[0].ID),
				Quantity: stripe.Int64(quantity),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	updateParams.Context = ctx

	if _, err := subscription.Update(subscriptionRef, updateParams); err != nil {
		return translateStripeError("update subscription quantity", err)
	}
	return nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionRef, params); err != nil {
		return translateStripeError("cancel subscription", err)
	}
	return nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionRef, params)
	if err != nil {
		return nil, translateStripeError("get subscription", err)
	}

	snapshot := &ProviderSubscription{
		Ref:         sub.ID,
		Status:      string(sub.Status),
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
	}
	if sub.Customer != nil {
		snapshot.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		snapshot.Quantity = sub.Items.Data[0].Quantity
	}
	return snapshot, nil
}
