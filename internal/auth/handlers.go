package auth

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/markbates/goth/gothic"
	"gorm.io/gorm"

	"battlecards-backend/internal/access"
	"battlecards-backend/internal/billing"
	"battlecards-backend/internal/config"
	"battlecards-backend/internal/database"
	apperrors "battlecards-backend/internal/errors"
	"battlecards-backend/internal/handoff"
	"battlecards-backend/internal/models"
	"battlecards-backend/pkg/utils"
)

// Package-level collaborators, wired during bootstrap.
var (
	BillingProvider billing.Provider
	HandoffCache    handoff.Cache = handoff.NewMemoryCache()
	Evaluator       *access.Evaluator
)

// HandleRegister creates a tenant and its first (admin) user. The tenant
// starts inactive; checkout is what activates it. A billing customer is
// created eagerly so checkout later has something to attach to.
func HandleRegister(c *gin.Context) {
	if os.Getenv("DISABLE_REGISTRATION") == "true" {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Registration is disabled. Please contact support.",
		})
		return
	}

	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Password    string `json:"password" binding:"required,min=8"`
		FirstName   string `json:"first_name" binding:"required"`
		LastName    string `json:"last_name"`
		CompanyName string `json:"company_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existingUser models.User
	if err := database.DB.Where("email = ?", email).First(&existingUser).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	tenant := models.Tenant{
		Name:   req.CompanyName,
		Plan:   models.PlanBasic,
		Seats:  1,
		Status: models.TenantInactive,
	}
	var user models.User

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		user = models.User{
			TenantID:     tenant.ID,
			Email:        email,
			PasswordHash: hashedPassword,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Role:         models.RoleAdmin,
			Status:       models.UserActive,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	if BillingProvider != nil {
		customerRef, err := BillingProvider.CreateCustomer(c.Request.Context(), user.Email, tenant.Name)
		if err != nil {
			utils.HandleError(err, fmt.Sprintf("Failed to create billing customer for tenant %d", tenant.ID))
		} else {
			tenant.StripeCustomerID = customerRef
			if err := database.DB.Save(&tenant).Error; err != nil {
				utils.HandleError(err, "Failed to persist billing customer ref")
			}
		}
	}

	token, expiry, csrfToken, err := GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	SetAuthCookie(c, token, expiry, csrfToken)

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Account created successfully",
		"user":       gin.H{"id": user.ID, "email": user.Email, "first_name": user.FirstName, "role": user.Role},
		"tenant":     gin.H{"id": tenant.ID, "name": tenant.Name, "plan": tenant.Plan, "status": tenant.Status},
		"token":      token,
		"csrf_token": csrfToken,
		"expires_at": expiry.Unix(),
	})
}

// HandleLogin authenticates a dashboard user. A suspended account is
// refused outright; a lapsed tenant is not, so its admin can reach the
// billing page and pick a plan.
func HandleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := database.DB.Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			respondInvalidCredentials(c)
			return
		}
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.Wrap(err, "DATABASE_ERROR", "Database error occurred"))
		return
	}

	if IsAccountLocked(&user) {
		utils.SendErrorResponse(c, http.StatusLocked, &apperrors.AppError{
			Code:    apperrors.ErrAccountLocked.Code,
			Message: apperrors.ErrAccountLocked.Message,
			Details: fmt.Sprintf("Account locked until %s", user.LockedUntil.Format(time.RFC3339)),
		})
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		if err := RecordFailedLogin(database.DB, &user); err != nil {
			utils.HandleError(err, fmt.Sprintf("Failed to record failed login for user %s", user.Email))
		}
		if IsAccountLocked(&user) {
			utils.SendErrorResponse(c, http.StatusLocked, &apperrors.AppError{
				Code:    apperrors.ErrAccountLocked.Code,
				Message: apperrors.ErrAccountLocked.Message,
			})
		} else {
			respondInvalidCredentials(c)
		}
		return
	}

	// A suspended account always loses, regardless of billing state.
	if user.Status == models.UserInactive {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrAccountSuspended)
		return
	}

	if err := RecordSuccessfulLogin(database.DB, &user); err != nil {
		log.Printf("Failed to record successful login for user %s: %v", user.Email, err)
	}

	token, expiry, csrfToken, err := GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	SetAuthCookie(c, token, expiry, csrfToken)
	c.Header("X-CSRF-Token", csrfToken)

	var tenant models.Tenant
	if err := database.DB.First(&tenant, user.TenantID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	responseBody := gin.H{
		"message":    "Login successful",
		"user":       gin.H{"id": user.ID, "email": user.Email, "first_name": user.FirstName, "role": user.Role},
		"tenant":     gin.H{"id": tenant.ID, "name": tenant.Name, "plan": tenant.Plan, "status": tenant.Status, "seats": tenant.Seats},
		"token":      token,
		"csrf_token": csrfToken,
		"expires_at": expiry.Unix(),
	}

	if Evaluator != nil {
		if verdict, err := Evaluator.EvaluateUser(user.Email, access.ModePermissive); err == nil {
			responseBody["access"] = verdict
		}
	}

	c.JSON(http.StatusOK, responseBody)
}

// HandleLogout blacklists the current token and clears cookies.
func HandleLogout(c *gin.Context) {
	tokenString := c.GetString("token")
	if tokenString == "" {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && tokenParts[0] == "Bearer" {
				tokenString = tokenParts[1]
			}
		}
	}
	if tokenString == "" {
		if cookieToken, err := c.Cookie(AuthCookieName); err == nil {
			tokenString = cookieToken
		}
	}
	if tokenString == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No active session found"})
		return
	}

	claims, err := ParseToken(tokenString)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token"})
		return
	}

	BlacklistToken(database.DB, tokenString, claims.UserID, claims.ExpiresAt.Time)
	ClearAuthCookie(c)

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// HandleGetProfile returns the current user, tenant, and dashboard
// access verdict.
func HandleGetProfile(c *gin.Context) {
	userID := c.GetUint("user_id")

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	var tenant models.Tenant
	if err := database.DB.First(&tenant, user.TenantID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}

	responseBody := gin.H{
		"user":   user,
		"tenant": tenant,
	}
	if Evaluator != nil {
		if verdict, err := Evaluator.EvaluateUser(user.Email, access.ModePermissive); err == nil {
			responseBody["access"] = verdict
		}
	}

	c.JSON(http.StatusOK, responseBody)
}

// HandleGetCSRFToken issues a fresh CSRF token for cookie-based clients.
func HandleGetCSRFToken(c *gin.Context) {
	csrfToken, err := generateCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate CSRF token"})
		return
	}

	c.SetCookie(CSRFCookieName, csrfToken, 3600, "/", "", shouldUseSecureCookies(c), false)
	c.JSON(http.StatusOK, gin.H{"csrf_token": csrfToken})
}

// HandleOAuthBegin starts the SSO flow for the provider in the path.
func HandleOAuthBegin(c *gin.Context) {
	provider := c.Param("provider")
	if !IsOAuthProviderConfigured(provider) {
		c.JSON(http.StatusNotFound, gin.H{"error": "OAuth provider not configured"})
		return
	}

	q := c.Request.URL.Query()
	q.Set("provider", provider)
	c.Request.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Writer, c.Request)
}

// HandleOAuthCallback completes the SSO flow, finds or creates the user
// from the identity tuple, and signs them in.
func HandleOAuthCallback(c *gin.Context) {
	provider := c.Param("provider")
	q := c.Request.URL.Query()
	q.Set("provider", provider)
	c.Request.URL.RawQuery = q.Encode()

	identity, err := gothic.CompleteUserAuth(c.Writer, c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "SSO authentication failed"})
		return
	}
	if identity.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SSO identity has no email"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	var user models.User
	err = database.DB.Where("email = ?", email).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user, err = createSSOUser(c, identity.FirstName, identity.LastName, email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error occurred"})
		return
	}

	if user.Status == models.UserInactive {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrAccountSuspended)
		return
	}

	token, expiry, csrfToken, err := GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	SetAuthCookie(c, token, expiry, csrfToken)

	frontendURL := config.GetEnv("FRONTEND_URL", "http://localhost:3000")
	c.Redirect(http.StatusTemporaryRedirect, frontendURL+"/dashboard")
}

func createSSOUser(c *gin.Context, firstName, lastName, email string) (models.User, error) {
	// SSO accounts get an unusable random password hash.
	randomToken, err := handoff.GenerateToken()
	if err != nil {
		return models.User{}, err
	}
	hash, err := HashPassword(randomToken)
	if err != nil {
		return models.User{}, err
	}

	tenantName := firstName
	if tenantName == "" {
		tenantName = email
	}
	tenant := models.Tenant{
		Name:   tenantName,
		Plan:   models.PlanBasic,
		Seats:  1,
		Status: models.TenantInactive,
	}
	var user models.User
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		user = models.User{
			TenantID:     tenant.ID,
			Email:        email,
			PasswordHash: hash,
			FirstName:    firstName,
			LastName:     lastName,
			Role:         models.RoleAdmin,
			Status:       models.UserActive,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return models.User{}, err
	}

	if BillingProvider != nil {
		customerRef, err := BillingProvider.CreateCustomer(c.Request.Context(), user.Email, tenant.Name)
		if err != nil {
			utils.HandleError(err, fmt.Sprintf("Failed to create billing customer for tenant %d", tenant.ID))
		} else {
			tenant.StripeCustomerID = customerRef
			if err := database.DB.Save(&tenant).Error; err != nil {
				utils.HandleError(err, "Failed to persist billing customer ref")
			}
		}
	}
	return user, nil
}

// HandleCreateHandoff mints a short-lived single-use token the dashboard
// passes to the desktop app, which exchanges it for its own session.
func HandleCreateHandoff(c *gin.Context) {
	userID := c.GetUint("user_id")

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	token, err := handoff.GenerateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate handoff token"})
		return
	}

	ttl := config.GetEnvDuration("HANDOFF_TTL", time.Minute)
	err = HandoffCache.Put(token, handoff.Data{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: time.Now(),
	}, ttl)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"handoff_token": token,
		"expires_in":    int(ttl.Seconds()),
	})
}

// HandleExchangeHandoff is called by the desktop app with a handoff
// token. It redeems the token (once), re-checks the account, and answers
// with a desktop session plus the strict-surface access verdict.
func HandleExchangeHandoff(c *gin.Context) {
	var req struct {
		HandoffToken string `json:"handoff_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := HandoffCache.Take(req.HandoffToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Handoff token is invalid or expired"})
			return
		}
		utils.SendAppError(c, err)
		return
	}

	var user models.User
	if err := database.DB.First(&user, data.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if user.Status == models.UserInactive {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrAccountSuspended)
		return
	}

	ttl := config.GetEnvDuration("DESKTOP_SESSION_TTL", 30*24*time.Hour)
	token, expiry, _, err := GenerateTokenWithTTL(user, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	responseBody := gin.H{
		"token":      token,
		"expires_at": expiry.Unix(),
		"user":       gin.H{"id": user.ID, "email": user.Email, "first_name": user.FirstName, "role": user.Role},
	}
	if Evaluator != nil {
		if verdict, err := Evaluator.EvaluateUser(user.Email, access.ModeStrict); err == nil {
			responseBody["access"] = verdict
		}
	}

	c.JSON(http.StatusOK, responseBody)
}

// respondInvalidCredentials sends an invalid credentials error response
func respondInvalidCredentials(c *gin.Context) {
	utils.SendErrorResponse(c, http.StatusUnauthorized, &apperrors.AppError{
		Code:    apperrors.ErrInvalidCredentials.Code,
		Message: apperrors.ErrInvalidCredentials.Message,
	})
}
