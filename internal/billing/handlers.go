package billing

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79/webhook"

	"battlecards-backend/internal/config"
	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
	"battlecards-backend/pkg/utils"
)

const maxWebhookBody = 65536

// Handlers exposes the billing HTTP surface: hosted checkout, webhook
// ingestion, and subscription management for the dashboard.
type Handlers struct {
	store         *entitlements.Store
	provider      Provider
	reconciler    *Reconciler
	webhookSecret string
}

func NewHandlers(store *entitlements.Store, provider Provider) *Handlers {
	return &Handlers{
		store:         store,
		provider:      provider,
		reconciler:    NewReconciler(store),
		webhookSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
}

// HandleWebhook verifies and applies a provider webhook delivery. Events
// that cannot be resolved locally are acknowledged with 2xx so the
// provider does not retry them forever; only infrastructure failures
// signal retry.
func (h *Handlers) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		logrus.WithError(err).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ev, err := ParseStripeEvent(&event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}
	if ev == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.reconciler.ApplyEvent(ev); err != nil {
		if errors.IsUnresolvableEvent(err) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		utils.HandleError(err, "billing.HandleWebhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// HandleCreateCheckout starts a hosted checkout session for the caller's
// tenant. The tenant id rides along as checkout metadata so the webhook
// can link the provider subscription back on completion.
func (h *Handlers) HandleCreateCheckout(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Billing is not configured"})
		return
	}
	userID := c.GetUint("user_id")

	var req struct {
		Plan  string `json:"plan" binding:"required,oneof=basic pro"`
		Seats int64  `json:"seats"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Seats < 1 {
		req.Seats = 1
	}

	user, err := h.store.GetUser(userID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	tenant, err := h.store.GetTenant(user.TenantID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	if tenant.StripeCustomerID == "" {
		customerRef, err := h.provider.CreateCustomer(c.Request.Context(), user.Email, tenant.Name)
		if err != nil {
			utils.SendAppError(c, err)
			return
		}
		tenant.StripeCustomerID = customerRef
		if err := h.store.UpdateTenant(tenant); err != nil {
			utils.SendAppError(c, err)
			return
		}
	}

	frontendURL := config.GetEnv("FRONTEND_URL", "http://localhost:3000")
	url, err := h.provider.CreateCheckoutSession(c.Request.Context(), CheckoutParams{
		CustomerRef:       tenant.StripeCustomerID,
		PriceID:           priceIDForPlan(req.Plan),
		Quantity:          req.Seats,
		SuccessURL:        frontendURL + "/dashboard?checkout=success",
		CancelURL:         frontendURL + "/pricing?checkout=cancelled",
		ClientReferenceID: strconv.FormatUint(uint64(tenant.ID), 10),
		Metadata: map[string]string{
			"tenant_id": strconv.FormatUint(uint64(tenant.ID), 10),
			"plan":      req.Plan,
			"email":     user.Email,
		},
	})
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// HandleGetCurrentSubscription returns the caller's tenant subscription.
func (h *Handlers) HandleGetCurrentSubscription(c *gin.Context) {
	userID := c.GetUint("user_id")

	user, err := h.store.GetUser(userID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	var sub models.Subscription
	if err := h.store.DB().Where("tenant_id = ?", user.TenantID).Order("created_at DESC").First(&sub).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// HandleCancelSubscription cancels the tenant's subscription with the
// provider and applies the lapse locally. The local cancellation always
// succeeds; a provider failure after commit is reported to the caller.
func (h *Handlers) HandleCancelSubscription(c *gin.Context) {
	userID := c.GetUint("user_id")

	user, err := h.store.GetUser(userID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if user.Role != models.RoleAdmin {
		utils.SendErrorResponse(c, http.StatusForbidden, errors.ErrUnauthorized)
		return
	}

	var sub models.Subscription
	if err := h.store.DB().Where("tenant_id = ?", user.TenantID).Order("created_at DESC").First(&sub).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subscription"})
		return
	}

	err = h.store.Transaction(func(tx *entitlements.Store) error {
		locked, err := tx.GetSubscriptionForUpdate(sub.ID)
		if err != nil {
			return err
		}
		locked.Status = models.SubscriptionCancelled
		now := time.Now()
		if locked.CancelledAt == nil {
			locked.CancelledAt = &now
		}
		if err := tx.UpdateSubscription(locked); err != nil {
			return err
		}
		if err := tx.SuspendTeamMembers(locked.ID); err != nil {
			return err
		}
		tenant, err := tx.GetTenant(user.TenantID)
		if err != nil {
			return err
		}
		tenant.Status = models.TenantInactive
		return tx.UpdateTenant(tenant)
	})
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	if sub.StripeSubscriptionID != nil && h.provider != nil {
		if err := h.provider.CancelSubscription(c.Request.Context(), *sub.StripeSubscriptionID); err != nil {
			utils.HandleError(err, "billing.HandleCancelSubscription")
			c.JSON(http.StatusOK, gin.H{
				"cancelled": true,
				"warning":   "provider sync pending",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func priceIDForPlan(plan string) string {
	if plan == models.PlanPro {
		return config.GetEnv("STRIPE_PRICE_PRO", "")
	}
	return config.GetEnv("STRIPE_PRICE_BASIC", "")
}
