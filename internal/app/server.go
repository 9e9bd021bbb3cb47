// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"motorlist-service/internal/config"
	"motorlist-service/internal/db"
	domainToken "motorlist-service/internal/domain/token"
	"motorlist-service/internal/domain/vehicle"
	tokenHandler "motorlist-service/internal/handlers/token"
	listingHandler "motorlist-service/internal/handlers/vehicle"
	"motorlist-service/internal/jobs"
	"motorlist-service/internal/middleware"
	"motorlist-service/internal/pkg/jwt"
	"motorlist-service/internal/pkg/ratelimit"
	"motorlist-service/internal/pkg/redislock"
	"motorlist-service/internal/repository/memory"
	"motorlist-service/internal/repository/postgres"
	tokenUsecase "motorlist-service/internal/service/token"
	vehicleUsecase "motorlist-service/internal/service/vehicle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg        config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	httpServer *http.Server
	sweeper    *jobs.ExpirySweeper
	closers    []func()
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Init connects to the backing services and wires every component.
func (s *Server) Init(ctx context.Context) error {
	// ----- Storage -----
	var (
		tokenStore  domainToken.Store
		listingRepo vehicle.Repository
		healthCheck func(c *gin.Context) error
	)

	switch s.cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.ConnectDB(ctx, s.cfg.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.logger.Info("connected to PostgreSQL")

		if err := postgres.NewDB(pool).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}

		store := postgres.NewTokenStore(pool)
		tokenStore, listingRepo = store, store
		healthCheck = func(c *gin.Context) error { return pool.Ping(c.Request.Context()) }
	default:
		store := memory.NewTokenStore()
		tokenStore, listingRepo = store, store
		s.logger.Warn("using in-memory store, data will not survive a restart")
	}

	// ----- Redis -----
	var (
		locker  jobs.Locker
		limiter middleware.Limiter
	)
	if s.cfg.RedisEnabled {
		redisClient, err := db.NewRedis(s.cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
		s.logger.Info("connected to Redis", zap.Strings("addresses", s.cfg.Redis.Addresses))

		locker = jobs.RedisLocker{Locker: redislock.NewLocker(redisClient, "motorlist:lock")}
		limiter = ratelimit.NewRateLimiter(redisClient)
	} else {
		s.logger.Warn("redis disabled, sweep lock and rate limiting are off")
	}

	// ----- JWT -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Services -----
	catalog := domainToken.MustDefaultCatalog()
	tokenService := tokenUsecase.NewTokenService(
		tokenStore,
		catalog,
		s.logger,
		tokenUsecase.WithSweepConcurrency(s.cfg.SweepConcurrency),
	)
	listingService := vehicleUsecase.NewListingService(listingRepo, s.logger)

	// ----- Jobs -----
	s.sweeper = jobs.NewExpirySweeper(tokenService, locker, s.cfg.SweepInterval, s.cfg.SweepLockTTL, s.logger)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	SetupRouter(s.engine, s.logger, &Handlers{
		TokenHandler:    tokenHandler.NewTokenHandler(tokenService),
		ListingHandler:  listingHandler.NewListingHandler(listingService),
		AuthMiddleware:  middleware.NewAuthMiddleware(jwtManager.Verifier),
		RateLimiter:     limiter,
		RateLimitMax:    s.cfg.RateLimitMax,
		RateLimitWindow: s.cfg.RateLimitWindow,
		MetricsEnabled:  s.cfg.MetricsEnabled,
		HealthCheck:     healthCheck,
	})

	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}
	return nil
}

// Run starts the sweeper and serves HTTP until Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	go s.sweeper.Run(ctx)

	s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// connections to backing services.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}
