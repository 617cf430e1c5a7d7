package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/auth"
	"github.com/fanbridge/payout-api/internal/config"
	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/database"
	"github.com/fanbridge/payout-api/internal/debt"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/payout"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the payout API server with graceful shutdown
// support. It wires the payout core services, database, processor client
// and the two background loops (holding-period sweeper, automatic payout
// scheduler).
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Shared services
	auditService := audit.NewService(db)
	auditHandlers := audit.NewGinHandlers(auditService)
	notifier := notify.NewLogDispatcher()

	settingsService := settings.NewService(db, auditService)
	if err := settingsService.Seed(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed platform settings")
	}
	settingsHandlers := settings.NewGinHandlers(settingsService)

	// Payment processor client: real Stripe client when a key is
	// configured, in-memory fake otherwise.
	var client processor.Client
	if cfg.StripeAPIKey != "" {
		client = processor.NewStripeClient(cfg.StripeAPIKey)
	} else {
		zlog.Warn().Msg("no processor API key configured, using in-memory fake client")
		client = processor.NewFake()
	}
	converter := processor.NewRateTableConverter("USD", nil)

	authService := auth.NewService(cfg.JWTSecret)
	if cfg.Env != "production" {
		authService.RegisterAPICredentials(auth.TestCreatorAPIKey, auth.TestCreatorAPISecret, "CRE_demo", auth.RoleCreator)
		authService.RegisterAPICredentials(auth.TestAdminAPIKey, auth.TestAdminAPISecret, "ADM_demo", auth.RoleAdmin)
	}
	authHandlers := auth.NewGinHandlers(authService)

	ledgerService := ledger.NewService(db, settingsService, auditService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	debtService := debt.NewService(db, settingsService, auditService, notifier)
	debtHandlers := debt.NewGinHandlers(debtService)

	creatorService := creator.NewService(db, settingsService, client, debtService,
		auditService, notifier, cfg.ProcessorTimeout)
	creatorHandlers := creator.NewGinHandlers(creatorService)

	payoutService := payout.NewService(db, creatorService, settingsService, client,
		converter, auditService, notifier, cfg.ProcessorTimeout)
	payoutHandlers := payout.NewGinHandlers(payoutService)

	// Background loops: holding-period sweeper and automatic payout
	// scheduler.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	sweeper := ledger.NewSweeper(ledgerService, cfg.SweepInterval)
	go sweeper.Start(loopCtx)

	scheduler := payout.NewScheduler(payoutService, cfg.SchedulerInterval)
	go scheduler.Start(loopCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, ledgerHandlers, creatorHandlers,
		payoutHandlers, debtHandlers, settingsHandlers, auditHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	loopCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers, grouped by
// audience:
// - Auth routes: public token issuance
// - Creator routes: JWT-protected self-service surface
// - Admin routes: approval queue, blocking, reconciliation, settings
// - Internal routes: charge/refund/profile ingest from the main platform
// - Webhook routes: asynchronous settlement confirmations
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	creatorHandlers *creator.GinHandlers,
	payoutHandlers *payout.GinHandlers,
	debtHandlers *debt.GinHandlers,
	settingsHandlers *settings.GinHandlers,
	auditHandlers *audit.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Creator self-service routes
		me := v1.Group("/me")
		me.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			me.GET("/profile", creatorHandlers.GetProfileHandler())
			me.PUT("/schedule", creatorHandlers.UpdateScheduleHandler())
			me.GET("/eligibility", creatorHandlers.EligibilityHandler())
			me.GET("/ledger", ledgerHandlers.ListEntriesHandler())
			me.GET("/balance", ledgerHandlers.BalanceHandler())
		}

		payouts := v1.Group("/payouts")
		payouts.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			payouts.POST("", payoutHandlers.CreateHandler())
			payouts.GET("", payoutHandlers.ListHandler())
			payouts.GET("/:payout_id", payoutHandlers.GetHandler())
			payouts.POST("/:payout_id/cancel", payoutHandlers.CancelOwnHandler())
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.JWTSecret))
		{
			admin.GET("/payouts/pending", payoutHandlers.ListPendingHandler())
			admin.GET("/payouts/stuck", payoutHandlers.StuckProcessingHandler())
			admin.GET("/payouts/:payout_id/entries", payoutHandlers.EntriesHandler())
			admin.POST("/payouts/:payout_id/approve", payoutHandlers.ApproveHandler())
			admin.POST("/payouts/:payout_id/reject", payoutHandlers.RejectHandler())
			admin.POST("/payouts/:payout_id/cancel", payoutHandlers.CancelHandler())

			admin.POST("/creators/:creator_id/block", creatorHandlers.BlockHandler())
			admin.POST("/creators/:creator_id/unblock", creatorHandlers.UnblockHandler())
			admin.GET("/creators/:creator_id/debts", debtHandlers.CreatorDebtsHandler())

			admin.GET("/debts", debtHandlers.ListUnreconciledHandler())
			admin.POST("/debts/:debt_id/reconcile", debtHandlers.ReconcileHandler())

			admin.POST("/ledger/:entry_id/reset", ledgerHandlers.ResetEntryHandler())
			admin.PUT("/ledger/:entry_id/release-date", ledgerHandlers.OverrideReleaseHandler())

			admin.GET("/settings", settingsHandlers.GetHandler())
			admin.PUT("/settings", settingsHandlers.UpdateHandler())

			admin.GET("/audit", auditHandlers.ListHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.POST("/charges", ledgerHandlers.RecordChargeHandler())
			internal.POST("/refunds", debtHandlers.RecordRefundHandler())
			internal.POST("/creators", creatorHandlers.UpsertProfileHandler())
			internal.POST("/sweep", ledgerHandlers.SweepHandler())
		}

		// Webhook routes: signature-verified, no bearer token
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/processor", payoutHandlers.WebhookHandler(cfg.StripeWebhookSecret))
		}
	}
}
