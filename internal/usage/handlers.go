package usage

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/database"
	"battlecards-backend/internal/models"
)

// HandleGetCurrentUsage returns seat and roster consumption for the
// caller's tenant, so the dashboard can show "4 of 5 seats used".
func HandleGetCurrentUsage(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")

	var sub models.Subscription
	if err := database.DB.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").First(&sub).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{
			"subscription": nil,
			"seats":        gin.H{"total": 0, "used": 0},
			"members":      gin.H{"total": 0, "active": 0, "suspended": 0},
		})
		return
	}

	var seatsUsed, membersTotal, membersActive, membersSuspended int64
	database.DB.Model(&models.Seat{}).
		Where("subscription_id = ? AND status <> ?", sub.ID, models.SeatRevoked).
		Count(&seatsUsed)
	database.DB.Model(&models.TeamMember{}).
		Where("subscription_id = ?", sub.ID).
		Count(&membersTotal)
	database.DB.Model(&models.TeamMember{}).
		Where("subscription_id = ? AND status = ?", sub.ID, models.MemberActive).
		Count(&membersActive)
	database.DB.Model(&models.TeamMember{}).
		Where("subscription_id = ? AND status = ?", sub.ID, models.MemberSuspended).
		Count(&membersSuspended)

	c.JSON(http.StatusOK, gin.H{
		"subscription": gin.H{
			"id":                 sub.ID,
			"plan":               sub.Plan,
			"status":             sub.Status,
			"current_period_end": sub.CurrentPeriodEnd,
		},
		"seats": gin.H{
			"total": sub.Seats,
			"used":  seatsUsed,
		},
		"members": gin.H{
			"total":     membersTotal,
			"active":    membersActive,
			"suspended": membersSuspended,
		},
	})
}
