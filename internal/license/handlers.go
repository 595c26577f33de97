package license

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/access"
	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
	"battlecards-backend/pkg/utils"
)

// Handlers exposes seat management to the dashboard and the license
// validation surface to the desktop client.
type Handlers struct {
	store     *entitlements.Store
	manager   *Manager
	evaluator *access.Evaluator
}

func NewHandlers(store *entitlements.Store, manager *Manager, evaluator *access.Evaluator) *Handlers {
	return &Handlers{store: store, manager: manager, evaluator: evaluator}
}

// callerSubscription resolves the authenticated user's subscription,
// preferring a personally owned one over the tenant's.
func (h *Handlers) callerSubscription(c *gin.Context) (*models.Subscription, *models.User, error) {
	userID := c.GetUint("user_id")
	user, err := h.store.GetUser(userID)
	if err != nil {
		return nil, nil, err
	}

	sub, err := h.store.GetSubscriptionForUser(user.ID)
	if err == nil {
		return sub, user, nil
	}
	if !errors.IsNotFound(err) {
		return nil, nil, err
	}

	var tenantSub models.Subscription
	if dbErr := h.store.DB().Where("tenant_id = ?", user.TenantID).
		Order("created_at DESC").First(&tenantSub).Error; dbErr != nil {
		return nil, nil, errors.NotFound("no subscription for caller")
	}
	return &tenantSub, user, nil
}

// HandleAddSeat provisions a seat on the caller's subscription and
// returns the generated license key. Admin only.
func (h *Handlers) HandleAddSeat(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, user, err := h.callerSubscription(c)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if user.Role != models.RoleAdmin {
		utils.SendErrorResponse(c, http.StatusForbidden, errors.ErrUnauthorized)
		return
	}

	seat, err := h.manager.AddSeat(c.Request.Context(), sub.ID, req.Email)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"seat": seat})
}

// HandleRevokeSeat permanently revokes a seat. Admin only; the seat must
// belong to the caller's subscription.
func (h *Handlers) HandleRevokeSeat(c *gin.Context) {
	seatID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seat id"})
		return
	}

	sub, user, err := h.callerSubscription(c)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if user.Role != models.RoleAdmin {
		utils.SendErrorResponse(c, http.StatusForbidden, errors.ErrUnauthorized)
		return
	}

	seat, err := h.store.GetSeat(uint(seatID))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if seat.SubscriptionID != sub.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "seat not found"})
		return
	}

	if err := h.manager.RevokeSeat(c.Request.Context(), seat.ID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// HandleListSeats returns all seats on the caller's subscription.
func (h *Handlers) HandleListSeats(c *gin.Context) {
	sub, _, err := h.callerSubscription(c)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	seats, err := h.store.GetSeatsForSubscription(sub.ID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"seats": seats, "seat_count": sub.Seats})
}

// HandleValidate is the desktop activation call: it binds the key to the
// presented machine when allowed and answers with a verdict either way.
// HTTP status is 200 for every well-formed request; the decision rides in
// the body.
func (h *Handlers) HandleValidate(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key" binding:"required"`
		MachineID  string `json:"machine_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ValidKeyFormat(req.LicenseKey) {
		c.JSON(http.StatusOK, gin.H{"verdict": access.Verdict{
			Decision: access.DecisionNotFound,
			Reason:   "unknown_license_key",
		}})
		return
	}

	seat, err := h.manager.ActivateLicense(req.LicenseKey, req.MachineID)
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			c.JSON(http.StatusOK, gin.H{"verdict": access.Verdict{
				Decision: access.DecisionNotFound,
				Reason:   "unknown_license_key",
			}})
		case errors.IsConflict(err):
			c.JSON(http.StatusOK, gin.H{"verdict": access.Verdict{
				Decision: access.DecisionDenied,
				Reason:   "license_bound_to_other_machine",
			}})
		default:
			utils.SendAppError(c, err)
		}
		return
	}

	verdict, err := h.evaluator.EvaluateLicense(NormalizeKey(req.LicenseKey), req.MachineID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdict": verdict, "seat": seat})
}

// HandleStatus is the read-only twin of HandleValidate: same verdict, no
// binding side effect.
func (h *Handlers) HandleStatus(c *gin.Context) {
	key := c.Query("license_key")
	machineID := c.Query("machine_id")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "license_key is required"})
		return
	}

	verdict, err := h.evaluator.EvaluateLicense(NormalizeKey(key), machineID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdict": verdict})
}

// HandleReset is the self-service machine unbind.
func (h *Handlers) HandleReset(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.ResetLicense(req.LicenseKey); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// HandleDeactivate unbinds a key from the machine presenting it.
func (h *Handlers) HandleDeactivate(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key" binding:"required"`
		MachineID  string `json:"machine_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.DeactivateLicense(req.LicenseKey, req.MachineID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// HandleRevalidate is the desktop's periodic entitlement re-check by
// account email, evaluated on the strict surface.
func (h *Handlers) HandleRevalidate(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.evaluator.EvaluateUser(req.Email, access.ModeStrict)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdict": verdict})
}
