package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/gesco-api/api/swagger"
	"github.com/noah-isme/gesco-api/internal/gateway"
	"github.com/noah-isme/gesco-api/internal/handler"
	"github.com/noah-isme/gesco-api/internal/middleware"
	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/repository"
	"github.com/noah-isme/gesco-api/internal/service"
	redisCache "github.com/noah-isme/gesco-api/pkg/cache"
	"github.com/noah-isme/gesco-api/pkg/config"
	"github.com/noah-isme/gesco-api/pkg/database"
	"github.com/noah-isme/gesco-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/gesco-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/gesco-api/pkg/middleware/requestid"
	"github.com/noah-isme/gesco-api/pkg/storage"
)

// @title GESCO API
// @version 1.0.0
// @description Candidate-to-active-student enrollment pipeline
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()
	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	if redisClient, err := redisCache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, status cache disabled")
		cacheService = service.NewCacheService(nil, metricsService, 0, logr, false)
	} else {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, 10*time.Minute, logr, true)
	}

	blobs, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("document storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	// repositories
	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	candidatureRepo := repository.NewCandidatureRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	inscriptionRepo := repository.NewInscriptionRepository(db)
	paiementRepo := repository.NewPaiementRepository(db)

	// services
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "gesco-api",
	})
	numberingService := service.NewNumberingService(userRepo, candidatureRepo, inscriptionRepo, catalogRepo, logr)
	userService := service.NewUserService(userRepo, numberingService, validate, logr)
	documentService := service.NewDocumentService(documentRepo, blobs, signer, cfg.Documents, logr)
	candidatureService := service.NewCandidatureService(candidatureRepo, numberingService, documentService, cacheService, metricsService, cfg.Enrollment, validate, logr)
	planService := service.NewPlanService(planRepo, validate, logr)
	activationService := service.NewActivationService(inscriptionRepo, candidatureRepo, userRepo, numberingService, metricsService, logr)
	ligdicash := gateway.NewClient(cfg.Gateway, logr)
	paiementService := service.NewPaiementService(paiementRepo, inscriptionRepo, planRepo, candidatureRepo, numberingService, activationService, ligdicash, metricsService, cfg, validate, logr)
	notificationService := service.NewNotificationService(service.NewConsoleMailer(logr), cfg.Outbox, logr)
	webhookService := service.NewWebhookService(paiementRepo, paiementService, notificationService, metricsService, logr)
	cleanupService := service.NewCleanupService(candidatureService, paiementService, inscriptionRepo, metricsService, cfg.Cleanup, cfg.Enrollment, logr)

	// handlers
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	candidaturePublicHandler := handler.NewCandidaturePublicHandler(candidatureService, documentService, notificationService)
	candidatureHandler := handler.NewCandidatureHandler(candidatureService, documentService, notificationService)
	documentHandler := handler.NewDocumentHandler(documentService)
	planHandler := handler.NewPlanHandler(planService, candidatureService)
	paiementHandler := handler.NewPaiementHandler(paiementService, webhookService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(rootCtx)
	defer notificationService.Stop()
	cleanupService.Start(rootCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	public := api.Group("/public")
	{
		candidatures := public.Group("/candidatures")
		candidatures.POST("", candidaturePublicHandler.Create)
		candidatures.PUT("/:ref", candidaturePublicHandler.Update)
		candidatures.DELETE("/:ref", candidaturePublicHandler.Cancel)
		candidatures.POST("/:ref/soumettre", candidaturePublicHandler.Submit)
		candidatures.GET("/:ref/statut", candidaturePublicHandler.Status)
		candidatures.GET("/:ref/documents-requis", candidaturePublicHandler.RequiredDocuments)
		candidatures.POST("/:ref/documents", candidaturePublicHandler.UploadDocument)
		candidatures.GET("/:ref/documents", candidaturePublicHandler.ListDocuments)
		candidatures.DELETE("/:ref/documents/:docId", candidaturePublicHandler.RemoveDocument)
		candidatures.GET("/:ref/offre", planHandler.Offer)
		candidatures.POST("/:ref/inscription", paiementHandler.InitiateEnrollment)
		candidatures.POST("/:ref/tranche-suivante", paiementHandler.PayNextTranche)
		candidatures.GET("/:ref/inscription/statut", paiementHandler.VerifyEnrollmentStatus)
		candidatures.GET("/:ref/paiement/succes", paiementHandler.PaymentSuccess)
		candidatures.GET("/:ref/paiement/erreur", paiementHandler.PaymentError)

		public.GET("/documents/:token", documentHandler.Download)
	}

	api.POST("/paiements/webhook/ligdicash", paiementHandler.Webhook)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authService))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/change-password", authHandler.ChangePassword)
		protected.GET("/me", authHandler.Me)
	}

	admin := api.Group("")
	admin.Use(middleware.JWT(authService))
	{
		users := admin.Group("/users")
		users.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", userHandler.Create)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)

		review := admin.Group("/candidatures")
		review.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleChefDept))
		review.GET("", candidatureHandler.List)
		review.GET("/:id", candidatureHandler.Get)
		review.POST("/:id/examiner", candidatureHandler.StartReview)
		review.POST("/:id/evaluer", candidatureHandler.Evaluate)
		review.GET("/:id/documents", candidatureHandler.ListDocuments)

		docs := admin.Group("/documents")
		docs.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleChefDept))
		docs.POST("/:id/valider", documentHandler.Validate)
		docs.DELETE("/:id", documentHandler.Delete)

		filieres := admin.Group("/filieres")
		filieres.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
		filieres.GET("/:filiereId/documents-requis", documentHandler.ListRequirements)
		filieres.PUT("/:filiereId/documents-requis", documentHandler.SaveRequirement)

		plans := admin.Group("/plans")
		plans.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
		plans.POST("", planHandler.Create)
		plans.GET("/:id/tranches", planHandler.Tranches)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
