package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classattend/internal/cachesync"
	"classattend/internal/config"
	"classattend/internal/faceclient"
	"classattend/internal/httpmiddleware"
	"classattend/internal/queue"
	"classattend/internal/roster"
	"classattend/internal/scheduler"
	"classattend/internal/session"
	"classattend/internal/snapshot"
	"classattend/internal/storage"
	"classattend/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "production" || env == "prod" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	stor := storage.New(cfg.StorageCloudName, cfg.StorageAPIKey, cfg.StorageAPISecret, cfg.StorageRootPath, cfg.StorageEnabled)
	if stor.Enabled() {
		logger.Info("object storage configured", zap.String("cloud", cfg.StorageCloudName))
	} else {
		logger.Info("object storage disabled; folder and upload calls are no-ops")
	}

	jobRepo := scheduler.NewRepository(db.Client)
	jobs := scheduler.NewService(jobRepo, logger)
	rosterRepo := roster.NewRepository(db.Client)
	dispatcher := cachesync.New(face, rosterRepo, q, logger)

	snapGen := snapshot.NewGenerator(
		snapshot.NewRepository(db.Client),
		rosterRepo,
		stor,
		logger,
	)

	sessions := session.NewService(
		session.NewRepository(db),
		jobs,
		stor,
		snapGen,
		session.Options{
			PreloadLeadMin:      cfg.PreloadLeadMin,
			CleanupLagMin:       cfg.CleanupLagMin,
			DefaultSessionHours: cfg.DefaultSessionHours,
			SideEffectTimeout:   cfg.SideEffectTimeout,
		},
		logger,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		redisHealthy := redisClient.Healthy(ctx)
		dbHealthy := db.Client.PingContext(ctx) == nil
		faceHealthy := face.Health(ctx) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "face": faceHealthy})
	})

	v1 := r.Group("/v1")

	v1.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID  string  `json:"class_id" binding:"required"`
			Date     string  `json:"date"`
			Location *string `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.CreateSession(c.Request.Context(), req.ClassID, req.Date, req.Location)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	v1.POST("/sessions/:id/complete", func(c *gin.Context) {
		sess, err := sessions.CompleteSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	v1.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.GET("/sessions/:id", func(c *gin.Context) {
		detail, err := sessions.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	v1.GET("/sessions/:id/snapshot", func(c *gin.Context) {
		snap, err := snapGen.GetBySession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		if snap == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	v1.GET("/sessions", func(c *gin.Context) {
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		list, err := sessions.ListSessions(c.Request.Context(), classID, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	// Cache admin surface. The async form is what entity-mutation call sites
	// use; it hands work to the background workers and cannot fail the caller.
	v1.POST("/cache/students/:id/refresh", func(c *gin.Context) {
		studentID := c.Param("id")
		if c.Query("async") == "1" {
			jobID := dispatcher.EnqueueRefreshStudentCache(c.Request.Context(), studentID)
			c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
			return
		}
		if err := dispatcher.RefreshStudentCache(c.Request.Context(), studentID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
	})

	v1.POST("/cache/students/:id/clear", func(c *gin.Context) {
		studentID := c.Param("id")
		if c.Query("async") == "1" {
			jobID := dispatcher.EnqueueClearStudentCache(c.Request.Context(), studentID)
			c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
			return
		}
		if err := dispatcher.ClearStudentCache(c.Request.Context(), studentID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	})

	v1.POST("/cache/clear", func(c *gin.Context) {
		if err := dispatcher.ClearAllCache(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	})

	v1.DELETE("/jobs/:id", func(c *gin.Context) {
		cancelled, err := jobs.CancelJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not pending"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "status": scheduler.StatusCancelled})
	})

	v1.GET("/jobs/:id", func(c *gin.Context) {
		status, err := jobs.GetJobStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "status": status})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrClassNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrDuplicateSession),
		errors.Is(err, session.ErrSessionNotInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
