package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/config"
	"github.com/vistone/fingerprint-gateway/internal/handler"
	"github.com/vistone/fingerprint-gateway/internal/healthcheck"
	"github.com/vistone/fingerprint-gateway/internal/middleware"
	"github.com/vistone/fingerprint-gateway/internal/proxy"
	"github.com/vistone/fingerprint-gateway/internal/quota"
	"github.com/vistone/fingerprint-gateway/internal/repository"
	"github.com/vistone/fingerprint-gateway/internal/service"
	"github.com/vistone/fingerprint-gateway/internal/storage"
)

// Server wires the rate limit engine, gateway middleware and backend pools
// behind one gin router. Redis and Postgres are optional: without them the
// gateway still limits by IP and serves metrics, it just loses API key
// auth, snapshots and request history.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	policy    *quota.TierPolicy
	limiter   *quota.RateLimiter
	persister *quota.AsyncPersister
	snapshots *storage.QuotaSnapshotStore
	pools     map[string]*proxy.Pool

	apiKeyService *service.APIKeyService
	authService   *service.AuthService
	requestLogger *middleware.RequestLogger

	apiKeyHandler *handler.APIKeyHandler
	authHandler   *handler.AuthHandler
	quotaHandler  *handler.QuotaHandler
	systemHandler *handler.SystemHandler

	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		redis:    redis,
		postgres: postgres,
		pools:    make(map[string]*proxy.Pool),
	}

	s.initLimiter()
	s.initServices()
	s.initPools()
	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) initLimiter() {
	s.policy = s.tierPolicy()

	opts := []quota.Option{
		quota.WithServiceLabel(s.config.RateLimit.ServiceLabel),
	}

	if s.redis != nil {
		s.snapshots = storage.NewQuotaSnapshotStore(s.redis)
		s.persister = quota.NewAsyncPersister(s.snapshots, s.config.RateLimit.PersistQueueSize)
		opts = append(opts, quota.WithPersister(s.persister))
	}

	s.limiter = quota.NewRateLimiter(s.policy, opts...)

	for endpoint, cost := range s.config.RateLimit.EndpointCosts {
		s.limiter.RegisterEndpoint(endpoint, cost)
	}

	s.limiter.StartSweeper(s.config.RateLimit.SweepInterval(), s.config.RateLimit.SweepRetention())
}

// tierPolicy applies config tier overrides on top of the built-in table.
func (s *Server) tierPolicy() *quota.TierPolicy {
	defaults := quota.DefaultTierPolicy()
	if len(s.config.RateLimit.Tiers) == 0 {
		return defaults
	}

	table := make(map[quota.Tier]quota.Limits)
	for _, tier := range defaults.Tiers() {
		table[tier] = defaults.Limits(tier)
	}
	for name, override := range s.config.RateLimit.Tiers {
		table[quota.ParseTier(name)] = quota.Limits{
			PerMinute:       override.PerMinute,
			Monthly:         override.Monthly,
			BurstMultiplier: override.BurstMultiplier,
		}
	}

	return quota.NewTierPolicy(table)
}

func (s *Server) initServices() {
	var logRepo *repository.RequestLogRepository
	if s.postgres != nil {
		apiKeyRepo := repository.NewAPIKeyRepository(s.postgres)
		userRepo := repository.NewUserRepository(s.postgres)
		logRepo = repository.NewRequestLogRepository(s.postgres)

		s.apiKeyService = service.NewAPIKeyService(apiKeyRepo, s.redis)
		s.authService = service.NewAuthService(userRepo, s.config.Auth.JWTSecret, s.config.Auth.ExpiryHours)
		s.requestLogger = middleware.NewRequestLogger(logRepo)

		s.apiKeyHandler = handler.NewAPIKeyHandler(s.apiKeyService, s.policy)
		s.authHandler = handler.NewAuthHandler(s.authService)
	}

	s.quotaHandler = handler.NewQuotaHandler(s.limiter, s.snapshots, logRepo)
}

func (s *Server) initPools() {
	for _, pool := range s.config.Backends {
		if len(pool.Targets) == 0 {
			log.Printf("backend pool %s has no targets, skipping", pool.Path)
			continue
		}

		p, err := proxy.NewPool(proxy.Config{
			Name:                 pool.Path,
			Targets:              pool.Targets,
			LoadBalancerStrategy: pool.LoadBalancerStrategy,
			CircuitBreaker:       proxy.DefaultCircuitBreaker,
		})
		if err != nil {
			log.Printf("failed to build pool for %s: %v", pool.Path, err)
			continue
		}

		s.pools[pool.Path] = p
	}

	s.systemHandler = handler.NewSystemHandler(s.pools)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	if s.requestLogger != nil {
		s.router.Use(s.requestLogger.Middleware())
	}
	if s.apiKeyService != nil {
		s.router.Use(middleware.APIKeyValidator(s.apiKeyService))
	}

	exempt := make(map[string]bool, len(s.config.RateLimit.ExemptPaths))
	for _, path := range s.config.RateLimit.ExemptPaths {
		exempt[path] = true
	}
	s.router.Use(middleware.RateLimit(s.limiter, exempt))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", s.quotaHandler.Metrics)

	admin := s.router.Group("/admin")
	if s.authService != nil {
		admin.POST("/login", s.authHandler.Login)
		admin.POST("/register", s.authHandler.Register)

		protected := admin.Group("")
		protected.Use(middleware.RequireAuth(s.authService))
		{
			protected.POST("/keys", s.apiKeyHandler.Create)
			protected.GET("/keys", s.apiKeyHandler.List)
			protected.GET("/keys/:id", s.apiKeyHandler.Get)
			protected.PATCH("/keys/:id", s.apiKeyHandler.Update)
			protected.DELETE("/keys/:id", s.apiKeyHandler.Delete)

			protected.GET("/tiers", s.quotaHandler.Tiers)
			protected.GET("/quota/:identity", s.quotaHandler.Status)
			protected.DELETE("/quota/:identity", s.quotaHandler.Reset)
			protected.GET("/metrics", s.quotaHandler.MetricsJSON)
			protected.GET("/usage", s.quotaHandler.Usage)

			protected.GET("/backends", s.systemHandler.BackendStatus)
			protected.POST("/backends/reset", s.systemHandler.ResetBreakers)
		}
	} else {
		// No database, expose read-only engine state without auth
		admin.GET("/tiers", s.quotaHandler.Tiers)
		admin.GET("/quota/:identity", s.quotaHandler.Status)
		admin.GET("/metrics", s.quotaHandler.MetricsJSON)
		admin.GET("/backends", s.systemHandler.BackendStatus)
	}

	for path, pool := range s.pools {
		p := pool
		s.router.Any(path, p.Handle)
		s.router.Any(path+"/*proxyPath", p.Handle)
		log.Printf("registered proxy route: %s", path)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	checks := gin.H{}
	status := "healthy"
	statusCode := http.StatusOK

	if s.redis != nil {
		ok := s.redis.Ping(c.Request.Context()) == nil
		checks["redis"] = ok
		if !ok {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}
	if s.postgres != nil {
		ok := s.postgres.Ping(c.Request.Context()) == nil
		checks["database"] = ok
		if !ok {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	for path, pool := range s.pools {
		health := pool.OverallHealth()
		checks["backend:"+path] = health.String()
		if health == healthcheck.Unhealthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "fingerprint-gateway",
		"version":   "1.0.0",
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("starting fingerprint gateway on %s", addr)
	log.Printf("environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	for _, pool := range s.pools {
		pool.Stop()
	}
	if s.requestLogger != nil {
		s.requestLogger.Close()
	}
	s.limiter.Close()
	if s.persister != nil {
		s.persister.Close()
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
