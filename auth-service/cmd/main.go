package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokerdesk/platform/auth-service/internal/handler"
	authqry "github.com/brokerdesk/platform/auth-service/internal/query"
	"github.com/brokerdesk/platform/auth-service/internal/repository"
	"github.com/brokerdesk/platform/shared/config"
	"github.com/brokerdesk/platform/shared/logging"
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.Logging, "auth-service")
	if err := cfg.RequireJWTSecret(); err != nil {
		log.Fatal(err)
	}

	// Database connection: credentials live in the ledger's accounts table.
	db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// CQRS: auth is read-only; no CommandService needed
	credRepo := repository.NewCredentialRepository(db)
	querySvc := authqry.NewAuthQueryService(credRepo, authqry.Options{
		Secret:            []byte(cfg.Auth.JWTSecret),
		TokenTTL:          cfg.Auth.TokenTTL,
		AdminEmail:        cfg.Auth.AdminEmail,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		Logger:            log,
	})
	authHandler := handler.NewAuthHandler(querySvc)
	if cfg.Auth.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set, admin login disabled")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	stop := make(chan struct{})
	defer close(stop)
	limiter.StartCleanup(time.Minute, stop)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))

	// Auth routes
	v1 := router.Group("/v1/auth", limiter.Handler())
	{
		v1.POST("/login", authHandler.Login)
		v1.POST("/admin/login", authHandler.AdminLogin)
		v1.POST("/refresh", authHandler.RefreshToken)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("Auth service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
}
