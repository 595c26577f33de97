package billing

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

// Reconciler translates billing-provider events into entitlement store
// mutations. Every event applies in a single transaction, is safe to
// deliver more than once, and tolerates out-of-order arrival.
type Reconciler struct {
	store *entitlements.Store
}

func NewReconciler(store *entitlements.Store) *Reconciler {
	return &Reconciler{store: store}
}

// ApplyEvent applies one billing event. Events that cannot be matched to
// any local record return an UnresolvableEvent error; the webhook handler
// acknowledges those so the provider stops retrying. Only infrastructure
// failures propagate as retryable.
func (r *Reconciler) ApplyEvent(ev *BillingEvent) error {
	if ev == nil {
		return nil
	}

	return r.store.Transaction(func(tx *entitlements.Store) error {
		sub, err := r.resolveSubscription(tx, ev)
		if err != nil {
			if errors.IsUnresolvableEvent(err) {
				logrus.WithFields(logrus.Fields{
					"event_type":       ev.Type,
					"subscription_ref": ev.ProviderSubscriptionRef,
					"customer_ref":     ev.ProviderCustomerRef,
				}).Warn("Billing event did not match any local record, discarding")
			}
			return err
		}

		// Stale-event rejection: an event carrying an older billing period
		// than what is stored never overwrites newer state.
		if ev.PeriodEnd != nil && sub.CurrentPeriodEnd != nil && ev.PeriodEnd.Before(*sub.CurrentPeriodEnd) {
			logrus.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"event_type":      ev.Type,
				"event_period":    ev.PeriodEnd,
				"stored_period":   sub.CurrentPeriodEnd,
			}).Info("Ignoring stale billing event")
			return nil
		}

		return r.applyToSubscription(tx, sub, ev)
	})
}

// resolveSubscription finds the target subscription for an event. The
// provider ref is authoritative; the correlation payload is only
// consulted for first-time linkage on checkout/creation events, which is
// the single place a provider ref gets bound to a local record.
func (r *Reconciler) resolveSubscription(tx *entitlements.Store, ev *BillingEvent) (*models.Subscription, error) {
	if ev.ProviderSubscriptionRef != "" {
		sub, err := tx.GetSubscriptionByProviderRef(ev.ProviderSubscriptionRef)
		if err == nil {
			return sub, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}

	if ev.Type != EventCheckoutCompleted && ev.Type != EventSubscriptionCreated {
		return nil, errors.UnresolvableEvent(fmt.Sprintf("no subscription for ref %q", ev.ProviderSubscriptionRef))
	}

	sub, err := r.resolveByCorrelation(tx, ev)
	if err != nil {
		return nil, err
	}
	if ev.ProviderSubscriptionRef != "" {
		if err := tx.BindProviderRef(sub.ID, ev.ProviderSubscriptionRef); err != nil {
			return nil, err
		}
		sub.StripeSubscriptionID = &ev.ProviderSubscriptionRef
	}
	return sub, nil
}

func (r *Reconciler) resolveByCorrelation(tx *entitlements.Store, ev *BillingEvent) (*models.Subscription, error) {
	corr := ev.Correlation

	if corr.SubscriptionID != 0 {
		sub, err := tx.GetSubscription(corr.SubscriptionID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.UnresolvableEvent(fmt.Sprintf("correlation subscription %d not found", corr.SubscriptionID))
			}
			return nil, err
		}
		if boundElsewhere(sub, ev.ProviderSubscriptionRef) {
			return nil, errors.UnresolvableEvent(fmt.Sprintf("correlation subscription %d is bound to a different provider subscription", corr.SubscriptionID))
		}
		return sub, nil
	}

	if corr.TenantID != 0 {
		tenant, err := tx.GetTenant(corr.TenantID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.UnresolvableEvent(fmt.Sprintf("correlation tenant %d not found", corr.TenantID))
			}
			return nil, err
		}
		return r.findOrCreateOwnerSubscription(tx, ev, &models.Subscription{TenantID: &tenant.ID})
	}

	if corr.UserID != 0 {
		user, err := tx.GetUser(corr.UserID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.UnresolvableEvent(fmt.Sprintf("correlation user %d not found", corr.UserID))
			}
			return nil, err
		}
		return r.findOrCreateOwnerSubscription(tx, ev, &models.Subscription{UserID: &user.ID})
	}

	// Last resort: a customer ref resolves the owning tenant.
	if ev.ProviderCustomerRef != "" {
		tenant, err := tx.GetTenantByCustomerRef(ev.ProviderCustomerRef)
		if err == nil {
			return r.findOrCreateOwnerSubscription(tx, ev, &models.Subscription{TenantID: &tenant.ID})
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, errors.UnresolvableEvent("event carries no usable correlation payload")
}

// boundElsewhere reports whether a subscription already carries a
// provider binding that contradicts the event's ref. Such a row must
// never be rebound; webhooks for its live provider subscription still
// resolve to it by ref.
func boundElsewhere(sub *models.Subscription, ref string) bool {
	return ref != "" && sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID != ref
}

func (r *Reconciler) findOrCreateOwnerSubscription(tx *entitlements.Store, ev *BillingEvent, owner *models.Subscription) (*models.Subscription, error) {
	existing, err := r.latestOwnerSubscription(tx, owner, ev.ProviderSubscriptionRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sub := owner
	sub.Plan = ev.Correlation.Plan
	if sub.Plan == "" {
		sub.Plan = models.PlanBasic
	}
	sub.Seats = 1
	if ev.Quantity != nil && *ev.Quantity > 0 {
		sub.Seats = int(*ev.Quantity)
	}
	sub.Status = models.SubscriptionIncomplete
	if err := tx.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// latestOwnerSubscription finds the newest subscription for the owner
// that the event may bind: unbound, or already bound to the event's own
// ref. Rows bound to other provider subscriptions are not candidates, so
// a checkout for a new provider subscription creates a fresh record
// instead of clobbering the old binding.
func (r *Reconciler) latestOwnerSubscription(tx *entitlements.Store, owner *models.Subscription, ref string) (*models.Subscription, error) {
	q := tx.DB().Model(&models.Subscription{}).Order("created_at DESC")
	if ref != "" {
		q = q.Where("stripe_subscription_id IS NULL OR stripe_subscription_id = ?", ref)
	}
	switch {
	case owner.UserID != nil:
		q = q.Where("user_id = ?", *owner.UserID)
	case owner.TenantID != nil:
		q = q.Where("tenant_id = ?", *owner.TenantID)
	case owner.OrganizationID != nil:
		q = q.Where("organization_id = ?", *owner.OrganizationID)
	}
	var sub models.Subscription
	err := q.First(&sub).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("subscription lookup failed", err)
	}
	return &sub, nil
}

// applyToSubscription assigns the event's status and periods and runs the
// membership cascade. Status assignment is idempotent by construction;
// the cascade checks current row status so repeated delivery cannot
// corrupt suspension timestamps. Seats are never auto-revoked here.
func (r *Reconciler) applyToSubscription(tx *entitlements.Store, sub *models.Subscription, ev *BillingEvent) error {
	status := MapProviderStatus(ev.ProviderStatus)
	if status == models.SubscriptionIncomplete {
		// Events with no useful provider status fall back to a default
		// implied by the event type; unknown statuses stay fail-closed.
		switch ev.Type {
		case EventSubscriptionCancelled:
			status = models.SubscriptionCancelled
		case EventSubscriptionExpired:
			status = models.SubscriptionExpired
		case EventPaymentFailed:
			status = models.SubscriptionPastDue
		}
	}

	wasGranting := models.IsAccessGranting(sub.Status)

	sub.Status = status
	if ev.PeriodStart != nil {
		sub.CurrentPeriodStart = ev.PeriodStart
	}
	if ev.PeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.PeriodEnd
	}
	if ev.Quantity != nil && *ev.Quantity > 0 {
		sub.Seats = int(*ev.Quantity)
	}
	if status == models.SubscriptionCancelled && sub.CancelledAt == nil {
		now := time.Now()
		sub.CancelledAt = &now
	}
	if err := tx.UpdateSubscription(sub); err != nil {
		return err
	}

	// The membership cascade fires only when access actually flips. A
	// renewal on an already-active subscription must not touch members an
	// admin suspended by hand.
	nowGranting := models.IsAccessGranting(status)
	if nowGranting != wasGranting {
		if nowGranting {
			if err := tx.ReactivateTeamMembers(sub.ID); err != nil {
				return err
			}
		} else {
			if err := tx.SuspendTeamMembers(sub.ID); err != nil {
				return err
			}
		}
	}

	if sub.TenantID != nil {
		if err := r.syncTenant(tx, *sub.TenantID, sub, status); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"event_type":      ev.Type,
		"status":          status,
	}).Info("Applied billing event")
	return nil
}

func (r *Reconciler) syncTenant(tx *entitlements.Store, tenantID uint, sub *models.Subscription, status string) error {
	tenant, err := tx.GetTenant(tenantID)
	if err != nil {
		return err
	}
	if models.IsAccessGranting(status) {
		tenant.Status = models.TenantActive
	} else {
		tenant.Status = models.TenantInactive
	}
	if sub.Plan != "" {
		tenant.Plan = sub.Plan
	}
	tenant.Seats = sub.Seats
	if sub.StripeSubscriptionID != nil {
		tenant.StripeSubscriptionID = sub.StripeSubscriptionID
	}
	return tx.UpdateTenant(tenant)
}
