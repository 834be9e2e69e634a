package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokerdesk/platform/api-gateway/internal/proxy"
	"github.com/brokerdesk/platform/shared/config"
	"github.com/brokerdesk/platform/shared/logging"
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.Logging, "api-gateway")
	if err := cfg.RequireJWTSecret(); err != nil {
		log.Fatal(err)
	}
	secret := []byte(cfg.Auth.JWTSecret)

	p := proxy.New(15*time.Second, log)
	toAuth := p.To(cfg.Upstreams.AuthServiceURL)
	toLedger := p.To(cfg.Upstreams.LedgerServiceURL)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	stop := make(chan struct{})
	defer close(stop)
	limiter.StartCleanup(time.Minute, stop)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))
	limit := limiter.Handler()

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})

	// Auth routes (no authentication required)
	router.POST("/v1/auth/login", limit, toAuth)
	router.POST("/v1/auth/admin/login", limit, toAuth)
	router.POST("/v1/auth/refresh", limit, toAuth)

	// Signup (no authentication required)
	router.POST("/v1/signup", limit, toLedger)

	// Account holder routes, throttled per account once authenticated
	user := router.Group("/v1", middleware.AuthMiddleware(secret), limit)
	{
		user.GET("/me", toLedger)
		user.PATCH("/me", toLedger)
		user.POST("/deposits", toLedger)
		user.POST("/withdrawals", toLedger)
		user.POST("/credits", toLedger)
		user.POST("/kyc", toLedger)
		user.GET("/requests/:kind", toLedger)
		user.GET("/requests/:kind/:id", toLedger)
		user.POST("/plans/join", toLedger)
		user.POST("/copy/join", toLedger)
		user.POST("/trades", toLedger)
		user.GET("/referrals", toLedger)
		user.GET("/positions", toLedger)
		user.GET("/journal", toLedger)
		user.GET("/activity", toLedger)
	}

	// Back office routes
	admin := router.Group("/v1/admin", middleware.AuthMiddleware(secret), middleware.AdminOnly(), limit)
	{
		admin.GET("/dashboard", toLedger)
		admin.GET("/accounts", toLedger)
		admin.GET("/accounts/:id", toLedger)
		admin.POST("/accounts/:id/balance", toLedger)
		admin.POST("/accounts/:id/trading", toLedger)
		admin.GET("/requests/:kind", toLedger)
		admin.POST("/requests/:kind/:id/:decision", toLedger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("API Gateway starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
}
