package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/database"
	"battlecards-backend/internal/models"
)

// HandleGetOverview returns operator-level counts across all tenants.
// Mounted behind the admin middleware.
func HandleGetOverview(c *gin.Context) {
	var tenants, users, activeSubscriptions, seats, pendingInquiries int64

	database.DB.Model(&models.Tenant{}).Count(&tenants)
	database.DB.Model(&models.User{}).Count(&users)
	database.DB.Model(&models.Subscription{}).
		Where("status IN ?", []string{models.SubscriptionActive, models.SubscriptionTrialing}).
		Count(&activeSubscriptions)
	database.DB.Model(&models.Seat{}).
		Where("status <> ?", models.SeatRevoked).
		Count(&seats)
	database.DB.Model(&models.EnterpriseInquiry{}).
		Where("status = ?", "pending").
		Count(&pendingInquiries)

	c.JSON(http.StatusOK, gin.H{
		"stats": gin.H{
			"total_tenants":        tenants,
			"total_users":          users,
			"active_subscriptions": activeSubscriptions,
			"seats_in_use":         seats,
			"pending_inquiries":    pendingInquiries,
		},
	})
}
