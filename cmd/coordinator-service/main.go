package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"callcoord-backend/internal/analytics"
	"callcoord-backend/internal/coordinator"
	"callcoord-backend/internal/database"
	sessionHandler "callcoord-backend/internal/handler/http/session"
	wsHandler "callcoord-backend/internal/handler/ws"
	"callcoord-backend/internal/middleware"
	"callcoord-backend/internal/repository/cockroach"
	redisRepo "callcoord-backend/internal/repository/redis"
	"callcoord-backend/pkg/audit"
	"callcoord-backend/pkg/constants"
	"callcoord-backend/pkg/env"
	"callcoord-backend/pkg/jwt"
	"callcoord-backend/pkg/logger"
	"callcoord-backend/pkg/metrics"
)

func main() {
	ctx := context.Background()

	// 1. Logging
	logger.InitDefault()
	defer logger.Sync()

	// 2. JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry)

	// 3. Coordinator configuration
	cfg := coordinator.ConfigFromEnv()

	// 4. CockroachDB for session summaries, with exponential backoff retry
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		env.GetString("DB_USER", "root"),
		env.GetStringFromFile("DB_PASSWORD", ""),
		env.GetString("DB_HOST", "localhost"),
		env.GetInt("DB_PORT", 26257),
		env.GetString("DB_NAME", "callcoord"),
		env.GetString("DB_SSLMODE", "disable"),
	)

	var db *database.DB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = database.NewDB(ctx, connString, nil)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = database.NewDB(ctx, connString, nil)
			if err == nil {
				break
			}
		}
	}

	var summaryStore analytics.SummaryStore
	var summaryLister sessionHandler.SummaryLister
	if err != nil {
		log.Printf("Warning: Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
		log.Println("Running in limited mode without summary persistence")
	} else {
		defer db.Close()
		summaryRepo := cockroach.NewSessionSummaryRepository(db.Pool)
		summaryStore = summaryRepo
		summaryLister = summaryRepo
		log.Println("Connected to CockroachDB")
	}

	// 5. Redis with degraded mode support
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Printf("Warning: Redis unavailable, starting in degraded mode: %v", err)
	} else {
		log.Println("Connected to Redis")
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	auditTrail := audit.NewLogger(redisDB)

	// 6. Metrics
	appMetrics := metrics.NewMetrics("coordinator-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Analytics aggregator and session registry
	aggregator := analytics.NewAggregator(
		env.GetInt("ANALYTICS_BUFFER_SIZE", 4096),
		summaryStore,
		auditTrail,
		presenceRepo,
		appMetrics,
		logger.Log,
	)
	registry := coordinator.NewRegistry(cfg, aggregator, appMetrics, logger.Log)

	// 8. Handlers
	sessionHdlr := sessionHandler.NewHandler(registry, aggregator, auditTrail, summaryLister)
	sessionWS := wsHandler.NewSessionHandler(registry, cfg, appMetrics)

	// 9. Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Timeout(env.GetDuration("REQUEST_TIMEOUT", 30*time.Second)))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		// The Redis mirror covers every coordinator instance; zero when degraded
		clusterSessions, _ := presenceRepo.GetActiveSessionCount(c.Request.Context())
		c.JSON(200, gin.H{
			"status":                  "healthy",
			"service":                 "coordinator-service",
			"active_sessions":         registry.ActiveCount(),
			"cluster_active_sessions": clusterSessions,
			"redis_degraded":          redisDB.IsDegraded(),
			"time":                    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)

	// Session creation is the one write amplifying into a long-lived actor,
	// so it gets its own per-user limit. In-memory fallback keeps the limit
	// approximately enforced while Redis is degraded.
	createLimiter := middleware.NewRateLimiterWithFallback(middleware.RateLimiterConfig{
		RedisClient:            redisDB,
		RequestsPerMin:         env.GetInt("RATELIMIT_SESSION_CREATE", 10),
		Window:                 time.Minute,
		EnableInMemoryFallback: true,
	})

	authed := router.Group("/v1")
	authed.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	authed.GET("/summaries", sessionHdlr.ListSummaries)

	v1 := authed.Group("/sessions")
	{
		v1.POST("", createLimiter.Middleware(), sessionHdlr.CreateSession)
		v1.GET("/:id", sessionHdlr.GetSession)
		v1.POST("/:id/moderate", sessionHdlr.ModerateParticipant)
		v1.POST("/:id/role", sessionHdlr.ChangeRole)
		v1.POST("/:id/leave", sessionHdlr.LeaveSession)
		v1.POST("/:id/end", sessionHdlr.EndSession)
		v1.GET("/:id/summary", sessionHdlr.GetSummary)
		v1.GET("/:id/moderation-log", sessionHdlr.GetModerationLog)
		v1.GET("/:id/audit", sessionHdlr.GetAuditTrail)

		// Participant WebSocket: join, state deltas, signaling
		v1.GET("/:id/ws", sessionWS.ServeWS)
	}

	// 10. Start server
	port := env.GetString("PORT", "8084")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		log.Printf("Coordinator Service starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 11. Graceful shutdown: end sessions first so connected clients get
	// session_ended, then flush analytics, then stop the listener.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	registry.Shutdown(shutdownCtx)
	aggregator.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
