package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/course-select-api/api/swagger"
	"github.com/noah-isme/course-select-api/internal/assignment"
	"github.com/noah-isme/course-select-api/internal/handler"
	internalmiddleware "github.com/noah-isme/course-select-api/internal/middleware"
	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/internal/realtime"
	"github.com/noah-isme/course-select-api/internal/repository"
	"github.com/noah-isme/course-select-api/internal/service"
	"github.com/noah-isme/course-select-api/pkg/cache"
	"github.com/noah-isme/course-select-api/pkg/config"
	"github.com/noah-isme/course-select-api/pkg/database"
	"github.com/noah-isme/course-select-api/pkg/export"
	"github.com/noah-isme/course-select-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-select-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-select-api/pkg/middleware/requestid"
)

// @title Course Selection API
// @version 1.0.0
// @description Ranked course preferences with live capacity and assignment runs
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	hub := realtime.NewHub(logr.Named("realtime"), metricsSvc)
	var sink realtime.Sink = realtime.HubSink{Hub: hub}
	if cfg.Realtime.RelayEnabled && redisClient != nil {
		relay := realtime.NewRelay(redisClient, cfg.Realtime.RelayChannel, hub, logr.Named("relay"))
		sink = relay
		group.Go(func() error { return relay.Run(groupCtx) })
	}
	dispatcher := realtime.NewDispatcher(sink, realtime.DispatcherConfig{
		Workers:    cfg.Realtime.DispatchWorkers,
		MaxRetries: cfg.Realtime.DispatchRetries,
	}, logr.Named("dispatcher"))
	// Workers outlive the signal so Stop can drain committed broadcasts.
	dispatcher.Start(context.Background())
	metricsSvc.TrackRealtime(hub.Groups, dispatcher.Stats)

	selectionRepo := repository.NewSelectionRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	termRepo := repository.NewTermRepository(db)
	capacityRepo := repository.NewCapacityRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)

	validate := validator.New()
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	selectionSvc := service.NewSelectionService(
		selectionRepo, termRepo, courseRepo, capacityRepo, auditRepo,
		dispatcher, metricsSvc, db, validate, logr.Named("selection"),
		service.SelectionServiceConfig{MaxRank: cfg.Selection.MaxRank, TxRetries: cfg.Selection.TxRetries},
	)
	var termCache *service.CacheService
	if redisClient != nil {
		termCache = service.NewCacheService(repository.NewCacheRepository(redisClient, "course-select:"), metricsSvc, cfg.Redis.CacheTTL, logr.Named("cache"))
	}
	termSvc := service.NewTermService(termRepo, termCache, nil)
	courseSvc := service.NewCourseService(termSvc, courseRepo)
	exportSvc := service.NewExportService(logr, export.NewCSVExporter(), export.NewPDFExporter())

	gateway, err := assignment.New(cfg.Assignment, logr.Named("assignment"))
	if err != nil {
		return fmt.Errorf("init assignment gateway: %w", err)
	}
	assignmentSvc := service.NewAssignmentService(
		termRepo, assignmentRepo, gateway, dispatcher, exportSvc, metricsSvc,
		logr.Named("assignment"), service.AssignmentServiceConfig{Timeout: cfg.Assignment.Timeout},
	)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if metricsSvc != nil {
		r.Use(internalmiddleware.Metrics(metricsSvc))
	}
	if cfg.RateLimit.Enabled && redisClient != nil {
		r.Use(internalmiddleware.RateLimit(repository.NewRateLimitRepository(redisClient), cfg.RateLimit.Requests, cfg.RateLimit.Window, logr))
	}

	var metricsHTTP http.Handler
	if metricsSvc != nil {
		metricsHTTP = metricsSvc.Handler()
	}
	opsHandler := handler.NewMetricsHandler(metricsHTTP, readinessChecks(db, redisClient))
	r.GET("/health", opsHandler.Health)
	r.GET("/ready", opsHandler.Ready)
	r.GET("/metrics", opsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if cfg.Realtime.Enabled {
		origins := corsmiddleware.NewPolicy(cfg.CORS.AllowedOrigins)
		realtimeHandler := handler.NewRealtimeHandler(groupCtx, hub, authSvc, realtime.ClientConfig{
			SendBuffer:   cfg.Realtime.SendBuffer,
			WriteTimeout: cfg.Realtime.WriteTimeout,
			PingInterval: cfg.Realtime.PingInterval,
		}, origins.CheckOrigin, logr.Named("ws"))
		r.GET("/ws", internalmiddleware.OptionalJWT(authSvc), realtimeHandler.Serve)
	}

	selectionHandler := handler.NewSelectionHandler(selectionSvc)
	termHandler := handler.NewTermHandler(termSvc, courseSvc)
	adminHandler := handler.NewAdminHandler(selectionSvc, assignmentSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc))

	api.GET("/terms", termHandler.List)
	api.GET("/terms/active", termHandler.Active)
	api.GET("/terms/:termId", termHandler.Get)
	api.GET("/terms/:termId/courses", termHandler.Courses)

	student := api.Group("")
	student.Use(internalmiddleware.RequireRoles(models.RoleStudent))
	student.POST("/selections", selectionHandler.Submit)
	student.DELETE("/selections/:id", selectionHandler.Remove)
	student.GET("/terms/:termId/selections", selectionHandler.List)
	student.DELETE("/terms/:termId/selections", selectionHandler.Clear)

	admin := api.Group("/admin")
	admin.Use(internalmiddleware.RequireRoles(models.RoleAdmin))
	admin.GET("/terms/:termId/selections", adminHandler.Selections)
	admin.GET("/terms/:termId/audit", adminHandler.Audit)
	admin.POST("/terms/:termId/assignments", adminHandler.TriggerAssignment)
	admin.GET("/terms/:termId/assignments", adminHandler.Assignments)
	admin.GET("/terms/:termId/assignments/export", adminHandler.ExportAssignments)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logr.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		dispatcher.Stop(shutdownCtx)
		return err
	})

	return group.Wait()
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
