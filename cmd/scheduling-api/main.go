package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lessonloop/scheduling-api/api/swagger"
	"github.com/lessonloop/scheduling-api/internal/handler"
	"github.com/lessonloop/scheduling-api/internal/middleware"
	"github.com/lessonloop/scheduling-api/internal/models"
	"github.com/lessonloop/scheduling-api/internal/repository"
	"github.com/lessonloop/scheduling-api/internal/service"
	"github.com/lessonloop/scheduling-api/pkg/cache"
	"github.com/lessonloop/scheduling-api/pkg/config"
	"github.com/lessonloop/scheduling-api/pkg/database"
	"github.com/lessonloop/scheduling-api/pkg/logger"
	corsmiddleware "github.com/lessonloop/scheduling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lessonloop/scheduling-api/pkg/middleware/requestid"
)

// @title LessonLoop Scheduling API
// @version 1.0.0
// @description Availability, booking and reschedule engine for one-to-one lessons
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	// Redis is optional. Without it the availability profile is reread from
	// Postgres on every request.
	var cacheRepo *repository.CacheRepository
	cacheEnabled := cfg.Scheduling.ProfileCacheOn
	if cacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, profile cache disabled", "error", err)
			cacheEnabled = false
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	lessonRepo := repository.NewLessonRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Scheduling.ProfileCacheTTL, logr, cacheEnabled)
	tokenSvc := service.NewTokenService(cfg.JWT)

	penalty := service.PenaltyConfig{
		WindowHours: float64(cfg.Scheduling.PenaltyWindowHours),
		Credits:     cfg.Scheduling.PenaltyCredits,
	}
	availabilitySvc := service.NewAvailabilityService(profileRepo, lessonRepo, cacheSvc, metricsSvc, nil, logr, service.AvailabilityConfig{
		ProviderID:      cfg.Scheduling.ProviderID,
		SlotStepMinutes: cfg.Scheduling.SlotStepMinutes,
	})
	recurrenceSvc := service.NewRecurrenceService(db, lessonRepo, auditRepo, metricsSvc, nil, logr)
	lessonSvc := service.NewLessonService(db, lessonRepo, balanceRepo, auditRepo, metricsSvc, nil, logr, penalty)
	rescheduleSvc := service.NewRescheduleService(db, lessonRepo, requestRepo, balanceRepo, auditRepo, metricsSvc, nil, logr, penalty)

	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	lessonHandler := handler.NewLessonHandler(lessonSvc, recurrenceSvc, rescheduleSvc)
	rescheduleHandler := handler.NewRescheduleHandler(rescheduleSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))

	availability := api.Group("/availability")
	{
		availability.GET("/slots", availabilityHandler.Slots)
		availability.GET("/profile", availabilityHandler.Profile)
		availability.PUT("/profile", middleware.RequireRoles(models.RoleProvider), availabilityHandler.UpdateProfile)
		availability.POST("/blackouts", middleware.RequireRoles(models.RoleProvider), availabilityHandler.AddBlackout)
		availability.DELETE("/blackouts/:id", middleware.RequireRoles(models.RoleProvider), availabilityHandler.RemoveBlackout)
	}

	lessons := api.Group("/lessons")
	{
		lessons.GET("", lessonHandler.List)
		lessons.POST("", lessonHandler.Book)
		lessons.POST("/series", lessonHandler.CreateSeries)
		lessons.GET("/balance", lessonHandler.Balance)
		if cfg.Exports.Enabled {
			lessons.GET("/export", lessonHandler.Export)
		}
		lessons.GET("/:id", lessonHandler.Get)
		lessons.GET("/:id/reschedule", rescheduleHandler.PendingForLesson)
		lessons.POST("/:id/cancel", lessonHandler.Cancel)
		lessons.POST("/:id/complete", middleware.RequireRoles(models.RoleProvider), lessonHandler.Complete)
		lessons.POST("/:id/following", middleware.RequireRoles(models.RoleProvider), lessonHandler.EditFollowing)
	}

	reschedules := api.Group("/reschedules")
	{
		reschedules.POST("", rescheduleHandler.Create)
		reschedules.POST("/:id/approve", middleware.RequireRoles(models.RoleProvider), rescheduleHandler.Approve)
		reschedules.POST("/:id/reject", middleware.RequireRoles(models.RoleProvider), rescheduleHandler.Reject)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
