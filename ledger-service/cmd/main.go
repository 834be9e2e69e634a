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

	ledgercmd "github.com/brokerdesk/platform/ledger-service/internal/command"
	"github.com/brokerdesk/platform/ledger-service/internal/handler"
	"github.com/brokerdesk/platform/ledger-service/internal/metrics"
	"github.com/brokerdesk/platform/ledger-service/internal/projection"
	ledgerqry "github.com/brokerdesk/platform/ledger-service/internal/query"
	"github.com/brokerdesk/platform/ledger-service/internal/repository"
	"github.com/brokerdesk/platform/shared/config"
	"github.com/brokerdesk/platform/shared/events"
	"github.com/brokerdesk/platform/shared/logging"
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/brokerdesk/platform/shared/models"
	redisClient "github.com/brokerdesk/platform/shared/redis"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	activityFeedPrefix = "activity:"
	activityFeedSize   = 100
	eventStreamMaxLen  = 10000
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.Logging, "ledger-service")
	if err := cfg.RequireJWTSecret(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Write store
	store, closeStore := openStore(ctx, cfg.Store, log)
	defer closeStore()

	// Redis is optional: without it the account view cache, the event
	// stream and the activity feed are disabled.
	var rdb *goredis.Client
	if redis, err := redisClient.NewClient(ctx, cfg.Redis); err != nil {
		log.WithError(err).Warn("Redis unavailable, running without cache and events")
	} else {
		defer redis.Close()
		rdb = redis.Client
	}

	// --- CQRS wiring ---
	m := metrics.New()
	views := repository.NewAccountReadRepository(store, rdb, log)
	feed := redisClient.NewFeed[models.ActivityItem](rdb, activityFeedPrefix, activityFeedSize)

	opts := ledgercmd.Options{
		ReferralBonus:  cfg.Ledger.ReferralBonus,
		MinTradeAmount: cfg.Ledger.MinTradeAmount,
		Cache:          views,
		Metrics:        m,
		Logger:         log.WithField("component", "engine"),
	}
	if rdb != nil {
		opts.Publisher = events.NewPublisher(rdb, eventStreamMaxLen)
	}
	commandSvc := ledgercmd.NewLedgerCommandService(store, opts)
	querySvc := ledgerqry.NewLedgerQueryService(store, views, feed)

	if rdb != nil {
		projector := projection.NewActivityProjector(feed, log.WithField("component", "projector"))
		hostname, _ := os.Hostname()
		go func() {
			subscriber := events.NewSubscriber(rdb, events.SubscriberConfig{
				Group:    "ledger-activity-group",
				Consumer: "activity-" + hostname,
				Stream:   events.LedgerEventsStream,
				Handler:  projector.Handle,
				Logger:   log,
			})
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Subscriber stopped")
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(time.Minute, ctx.Done())

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log), m.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": cfg.Store.Driver, "redis": rdb != nil})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	handler.RegisterRoutes(router,
		handler.NewLedgerHandler(commandSvc, querySvc),
		handler.NewAdminHandler(commandSvc, querySvc),
		[]byte(cfg.Auth.JWTSecret),
		limiter.Handler(),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("Ledger service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
}

// openStore returns the configured write store and its closer.
func openStore(ctx context.Context, cfg config.StoreConfig, log *logrus.Entry) (repository.Store, func()) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("Using in-memory store; data will not survive a restart")
		return repository.NewMemoryStore(), func() {}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	return repository.NewPostgresStore(db), func() { _ = db.Close() }
}
