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

	_ "github.com/campuslib/journal-loans-api/api/swagger"
	"github.com/campuslib/journal-loans-api/internal/handler"
	"github.com/campuslib/journal-loans-api/internal/middleware"
	"github.com/campuslib/journal-loans-api/internal/repository"
	"github.com/campuslib/journal-loans-api/internal/service"
	"github.com/campuslib/journal-loans-api/pkg/cache"
	"github.com/campuslib/journal-loans-api/pkg/config"
	"github.com/campuslib/journal-loans-api/pkg/database"
	"github.com/campuslib/journal-loans-api/pkg/jobs"
	"github.com/campuslib/journal-loans-api/pkg/logger"
	corsmiddleware "github.com/campuslib/journal-loans-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campuslib/journal-loans-api/pkg/middleware/requestid"
	"github.com/campuslib/journal-loans-api/pkg/storage"
)

// @title Journal Loans API
// @version 1.0.0
// @description Borrowing lifecycle and inventory management for campus journal copies.
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	loanRepo := repository.NewLoanRepository(db)
	journalRepo := repository.NewJournalRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	loanSvc := service.NewLoanService(loanRepo, teacherRepo, journalRepo, cacheRepo, metricsSvc, validate, logr, service.LoanServiceConfig{
		DefaultBorrowDays: cfg.Loans.DefaultBorrowDays,
		SoonExpireDays:    cfg.Loans.SoonExpireDays,
		BorrowRetries:     cfg.Loans.BorrowRetries,
		SnapshotTTL:       cfg.Loans.OverdueSnapshotTTL,
	})
	journalSvc := service.NewJournalService(journalRepo, loanRepo, validate, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, loanRepo, validate, logr)

	var reportSvc *service.ReportService
	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exporter := service.NewExportService(loanRepo, files, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, nil, nil)

		worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportQueue.Start(ctx)
		defer reportQueue.Stop()

		reportSvc = service.NewReportService(reportRepo, reportQueue, exporter, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: time.Hour,
		})
		reportSvc.StartCleanup(ctx)
	}

	loanHandler := handler.NewLoanHandler(loanSvc)
	journalHandler := handler.NewJournalHandler(journalSvc, loanSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc, loanSvc)
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
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/snapshot", metricsHandler.Snapshot)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		loans := api.Group("/loans")
		{
			loans.POST("", loanHandler.Borrow)
			loans.GET("", loanHandler.List)
			loans.GET("/overdue", loanHandler.ListOverdue)
			loans.GET("/overdue/stats", loanHandler.OverdueStats)
			loans.GET("/upcoming", loanHandler.ListUpcoming)
			loans.GET("/:id", loanHandler.Get)
			loans.PUT("/:id/return", loanHandler.Return)
			loans.PUT("/:id/extend", loanHandler.Extend)
			loans.PUT("/:id/status", loanHandler.UpdateStatus)
		}

		journals := api.Group("/journals")
		{
			journals.GET("", journalHandler.List)
			journals.POST("", journalHandler.Create)
			journals.POST("/batch-delete", journalHandler.BatchDelete)
			journals.GET("/:id", journalHandler.Get)
			journals.PUT("/:id", journalHandler.Update)
			journals.DELETE("/:id", journalHandler.Delete)
			journals.GET("/:id/borrow-status", journalHandler.BorrowStatus)
			journals.GET("/:id/loans", journalHandler.Loans)
		}

		teachers := api.Group("/teachers")
		{
			teachers.GET("", teacherHandler.List)
			teachers.POST("", teacherHandler.Create)
			teachers.GET("/:id", teacherHandler.Get)
			teachers.PUT("/:id", teacherHandler.Update)
			teachers.DELETE("/:id", teacherHandler.Deactivate)
			teachers.GET("/:id/borrow-status", teacherHandler.BorrowStatus)
			teachers.GET("/:id/loans", teacherHandler.Loans)
		}

		if reportSvc != nil {
			reportHandler := handler.NewReportHandler(reportSvc)
			reports := api.Group("/reports")
			{
				reports.POST("", reportHandler.Create)
				reports.GET("/:id", reportHandler.Status)
				reports.GET("/download/:token", reportHandler.Download)
			}
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
