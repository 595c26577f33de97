package bootstrap

import (
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"battlecards-backend/internal/models"
)

// Run seeds the initial tenant and admin user for local stacks and
// fresh deployments. Everything is driven by BOOTSTRAP_* env vars and
// is a no-op when the user already exists.
func Run(db *gorm.DB) {
	if db == nil {
		log.Println("bootstrap: skipping; database not initialized")
		return
	}

	email := strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")))
	password := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return
	}

	companyName := strings.TrimSpace(os.Getenv("BOOTSTRAP_COMPANY_NAME"))
	if companyName == "" {
		companyName = "Battle Cards"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("bootstrap: failed to hash admin password: %v", err)
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		tenant := models.Tenant{
			Name:   companyName,
			Plan:   models.PlanPro,
			Seats:  1,
			Status: models.TenantActive,
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		user := models.User{
			TenantID:     tenant.ID,
			Email:        email,
			PasswordHash: string(hash),
			FirstName:    "Admin",
			Role:         models.RoleAdmin,
			Status:       models.UserActive,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		log.Printf("bootstrap: failed to seed admin user: %v", err)
		return
	}

	log.Printf("bootstrap: seeded admin user %s", email)
}
