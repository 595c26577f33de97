package enterprise

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"battlecards-backend/internal/database"
	"battlecards-backend/internal/models"
)

// HandleCreateInquiry records an enterprise sales inquiry. Public
// endpoint, sits behind the unauthenticated rate limiter.
func HandleCreateInquiry(c *gin.Context) {
	var req struct {
		Email   string `json:"email" binding:"required,email"`
		Name    string `json:"name" binding:"required"`
		Company string `json:"company" binding:"required"`
		Seats   int    `json:"seats"`
		Message string `json:"message"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// A repeat inquiry from the same address just acknowledges.
	var existing models.EnterpriseInquiry
	if err := database.DB.Where("email = ? AND status = ?", email, "pending").First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, gin.H{
			"message": "We already have your inquiry and will be in touch soon",
		})
		return
	}

	inquiry := models.EnterpriseInquiry{
		Email:   email,
		Name:    req.Name,
		Company: req.Company,
		Seats:   req.Seats,
		Message: req.Message,
		Status:  "pending",
	}

	if err := database.DB.Create(&inquiry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit inquiry"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Inquiry submitted successfully",
		"inquiry": inquiry,
	})
}

// HandleListInquiries returns inquiries, optionally filtered by status.
// Admin only.
func HandleListInquiries(c *gin.Context) {
	status := c.DefaultQuery("status", "")

	query := database.DB.Model(&models.EnterpriseInquiry{}).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var inquiries []models.EnterpriseInquiry
	if err := query.Find(&inquiries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch inquiries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"inquiries": inquiries,
		"total":     len(inquiries),
	})
}

// HandleUpdateInquiryStatus moves an inquiry through the sales pipeline.
// Admin only.
func HandleUpdateInquiryStatus(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Status string `json:"status" binding:"required,oneof=pending contacted closed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var inquiry models.EnterpriseInquiry
	if err := database.DB.Where("id = ?", id).First(&inquiry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Inquiry not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch inquiry"})
		}
		return
	}

	inquiry.Status = req.Status
	if err := database.DB.Save(&inquiry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update inquiry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Inquiry updated",
		"inquiry": inquiry,
	})
}
