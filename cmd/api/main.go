package main

import (
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/access"
	"battlecards-backend/internal/admin"
	"battlecards-backend/internal/ai"
	"battlecards-backend/internal/auth"
	"battlecards-backend/internal/billing"
	"battlecards-backend/internal/bootstrap"
	"battlecards-backend/internal/config"
	"battlecards-backend/internal/database"
	"battlecards-backend/internal/enterprise"
	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/handoff"
	"battlecards-backend/internal/health"
	"battlecards-backend/internal/license"
	"battlecards-backend/internal/middleware"
	"battlecards-backend/internal/models"
	"battlecards-backend/internal/realtime"
	"battlecards-backend/internal/status"
	"battlecards-backend/internal/teams"
	"battlecards-backend/internal/usage"
)

func main() {
	log.Println("🚀 Starting Battle Cards API Server")

	// Initialize Sentry before other subsystems so we capture initialization errors
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		release := os.Getenv("SENTRY_RELEASE")
		if release == "" {
			release = os.Getenv("GIT_COMMIT")
		}
		host, _ := os.Hostname()

		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: env,
			Release:     release,
		}
		if host != "" {
			opts.ServerName = host
		}

		if err := sentry.Init(opts); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "battlecards-backend")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := database.RunMigrations(models.All()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	bootstrap.Run(database.DB)

	// Initialize auth components
	auth.InitJWT()
	auth.InitOAuth()

	// Core wiring
	store := entitlements.NewStore(database.DB)
	evaluator := access.NewEvaluator(store)

	var provider billing.Provider
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		provider = billing.NewStripeProvider(key, config.GetEnvDuration("STRIPE_CALL_TIMEOUT", 15*time.Second))
	} else {
		log.Println("⚠️  STRIPE_SECRET_KEY not set, billing provider disabled")
	}

	billingHandlers := billing.NewHandlers(store, provider)
	licenseManager := license.NewManager(store, provider)
	licenseHandlers := license.NewHandlers(store, licenseManager, evaluator)
	teamHandlers := teams.NewHandlers(store)
	aiHandlers := ai.NewHandlers(ai.NewAnalyzer(ai.NewAnthropicGenerator()))
	relay := realtime.NewRelay()

	auth.BillingProvider = provider
	auth.Evaluator = evaluator
	if os.Getenv("REDIS_HOST") != "" {
		cache, err := handoff.NewRedisCache()
		if err != nil {
			log.Printf("⚠️  Redis handoff cache unavailable, falling back to memory: %v", err)
		} else {
			auth.HandoffCache = cache
			log.Println("✅ Redis handoff cache connected")
		}
	}

	// Start background tasks
	middleware.StartCleanup()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			auth.CleanupTokenBlacklist(database.DB)
		}
	}()

	// Set up router
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS - MUST be first to handle OPTIONS requests
	router.Use(cors.New(middleware.SecureCORSConfig()))

	// Security middleware - after CORS
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20))
	router.Use(middleware.GeneralRateLimit())
	router.Use(middleware.CSRFProtection())

	// Health check endpoints
	router.GET("/health", health.HandleHealthCheck)
	router.GET("/ready", health.HandleSystemReady)
	router.GET("/status", status.HandleGetStatusSummary)

	api := router.Group("/api/v1")
	{
		api.GET("/health", health.HandleHealthCheck)

		// Public auth routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.GET("/csrf-token", auth.HandleGetCSRFToken)
			authRoutes.POST("/login", middleware.LoginRateLimit(), auth.HandleLogin)
			authRoutes.POST("/register", middleware.RegisterRateLimit(), auth.HandleRegister)
			authRoutes.POST("/logout", auth.HandleLogout)
			authRoutes.GET("/:provider", auth.HandleOAuthBegin)
			authRoutes.GET("/:provider/callback", auth.HandleOAuthCallback)
			authRoutes.POST("/handoff/exchange", middleware.HandoffRateLimit(), auth.HandleExchangeHandoff)
		}

		// Billing webhook (signature-authenticated, no session)
		api.POST("/billing/webhook", billingHandlers.HandleWebhook)

		// Desktop license surface (key-authenticated, no session)
		licenseRoutes := api.Group("/license")
		licenseRoutes.Use(middleware.LicenseRateLimit())
		{
			licenseRoutes.POST("/validate", licenseHandlers.HandleValidate)
			licenseRoutes.GET("/status", licenseHandlers.HandleStatus)
			licenseRoutes.POST("/reset", licenseHandlers.HandleReset)
			licenseRoutes.POST("/deactivate", licenseHandlers.HandleDeactivate)
			licenseRoutes.POST("/revalidate", licenseHandlers.HandleRevalidate)
		}

		// Enterprise inquiries (public submission)
		api.POST("/enterprise/inquiries", middleware.InquiryRateLimit(), enterprise.HandleCreateInquiry)

		// Protected routes
		protected := api.Group("")
		protected.Use(auth.Middleware(database.DB))
		{
			protected.GET("/profile", auth.HandleGetProfile)
			protected.POST("/auth/handoff", auth.HandleCreateHandoff)
			protected.GET("/usage", usage.HandleGetCurrentUsage)

			// Billing & subscription
			protected.POST("/billing/checkout", billingHandlers.HandleCreateCheckout)
			protected.GET("/billing/subscription", billingHandlers.HandleGetCurrentSubscription)
			protected.POST("/billing/cancel", billingHandlers.HandleCancelSubscription)

			// Seats & license keys
			protected.GET("/seats", licenseHandlers.HandleListSeats)
			protected.POST("/seats", licenseHandlers.HandleAddSeat)
			protected.DELETE("/seats/:id", licenseHandlers.HandleRevokeSeat)

			// Team roster
			teamRoutes := protected.Group("/team")
			{
				teamRoutes.GET("/members", teamHandlers.HandleListMembers)
				teamRoutes.POST("/members", teamHandlers.HandleInviteMember)
				teamRoutes.DELETE("/members/:id", teamHandlers.HandleRemoveMember)
				teamRoutes.POST("/members/:id/suspend", teamHandlers.HandleSuspendMember)
				teamRoutes.POST("/members/:id/reactivate", teamHandlers.HandleReactivateMember)
			}

			// AI battle cards (desktop, Bearer session)
			cardRoutes := protected.Group("/cards")
			{
				cardRoutes.POST("/analyze", aiHandlers.HandleAnalyze)
				cardRoutes.POST("/manual-generate", aiHandlers.HandleManualGenerate)
				cardRoutes.POST("/reset", aiHandlers.HandleReset)
			}

			// Enterprise inquiry pipeline (admin)
			adminRoutes := protected.Group("")
			adminRoutes.Use(auth.AdminMiddleware())
			{
				adminRoutes.GET("/admin/overview", admin.HandleGetOverview)
				adminRoutes.GET("/enterprise/inquiries", enterprise.HandleListInquiries)
				adminRoutes.PUT("/enterprise/inquiries/:id", enterprise.HandleUpdateInquiryStatus)
			}
		}
	}

	// Live transcription relay
	router.GET("/ws/transcribe", relay.HandleTranscribe)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("✅ Server starting on port %s", port)
	log.Printf("📊 Service Status:")
	log.Printf("   - Billing: %s", configuredMark(provider != nil))
	log.Printf("   - AI: %s", configuredMark(os.Getenv("ANTHROPIC_API_KEY") != ""))
	log.Printf("   - Transcription: %s", configuredMark(relay.Configured()))

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func configuredMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
