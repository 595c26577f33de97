package teams

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
	"battlecards-backend/pkg/utils"
)

// Handlers manages the member roster of a subscription. Members get
// access by email; they do not need dashboard accounts.
type Handlers struct {
	store *entitlements.Store
}

func NewHandlers(store *entitlements.Store) *Handlers {
	return &Handlers{store: store}
}

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

// HandleListMembers returns the full roster, suspended members included,
// so the dashboard can show who will come back after a payment recovery.
func (h *Handlers) HandleListMembers(c *gin.Context) {
	sub, _, err := h.callerSubscription(c)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	members, err := h.store.GetTeamMembersForSubscription(sub.ID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"members": members,
		"total":   len(members),
		"seats":   sub.Seats,
	})
}

// HandleInviteMember adds an email to the roster. Admin only. The roster
// is capped by the subscription's seat count, and every member row
// counts against the cap whatever its status.
func (h *Handlers) HandleInviteMember(c *gin.Context) {
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
	if !models.IsAccessGranting(sub.Status) {
		utils.SendAppError(c, errors.Conflict("subscription is not active"))
		return
	}

	count, err := h.store.CountTeamMembers(sub.ID)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if count >= int64(sub.Seats) {
		utils.SendAppError(c, errors.Conflict("all seats are taken"))
		return
	}

	now := time.Now()
	member := models.TeamMember{
		SubscriptionID: sub.ID,
		Email:          req.Email,
		Status:         models.MemberInvited,
		InvitedAt:      &now,
	}
	if err := h.store.CreateTeamMember(&member); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"member":  member,
		"message": "Member invited successfully",
	})
}

// HandleRemoveMember deletes a member from the roster. Admin only; the
// member must belong to the caller's subscription.
func (h *Handlers) HandleRemoveMember(c *gin.Context) {
	memberID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
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

	member, err := h.store.GetTeamMember(uint(memberID))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if member.SubscriptionID != sub.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	if err := h.store.DeleteTeamMember(member.ID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Member removed successfully"})
}

// HandleSuspendMember is the manual, per-member suspension. While the
// subscription keeps paying, renewal events leave a hand-suspended
// member alone; only a lapse-and-recovery cycle resets the roster.
func (h *Handlers) HandleSuspendMember(c *gin.Context) {
	h.setMemberStatus(c, models.MemberSuspended)
}

// HandleReactivateMember resumes a suspended member.
func (h *Handlers) HandleReactivateMember(c *gin.Context) {
	h.setMemberStatus(c, models.MemberActive)
}

func (h *Handlers) setMemberStatus(c *gin.Context, status string) {
	memberID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
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

	member, err := h.store.GetTeamMember(uint(memberID))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	if member.SubscriptionID != sub.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	now := time.Now()
	member.Status = status
	switch status {
	case models.MemberSuspended:
		member.SuspendedAt = &now
	case models.MemberActive:
		member.SuspendedAt = nil
		if member.JoinedAt == nil {
			member.JoinedAt = &now
		}
	}
	if err := h.store.UpdateTeamMember(member); err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"member": member})
}
