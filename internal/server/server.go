// Package server assembles the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/config"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/events"
	"taskflow/backend/internal/handlers"
	"taskflow/backend/internal/middleware"
	"taskflow/backend/internal/monitoring"
	"taskflow/backend/internal/services"
	"taskflow/backend/internal/worker"
)

// App holds every long-lived component. Build it with New, serve with Run and
// release it with Close.
type App struct {
	config *config.Config
	log    *zap.Logger

	db        *database.DatabasePool
	redis     *redis.Client
	cache     cache.Cache
	broker    events.Broker
	pool      *worker.Pool
	publisher *events.AsyncPublisher
	warmer    *cache.CacheWarmer
	limiter   *middleware.RateLimiter
	streams   *handlers.BroadcastHandler
	metrics   *monitoring.Metrics
	health    *monitoring.HealthChecker

	Tasks      *services.TaskService
	Dashboard  *services.DashboardService
	Categories *services.CategoryService
	Auth       *services.AuthService
	Users      *services.UserService

	router *gin.Engine
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	// Redis replaces the client built from configuration.
	Redis *redis.Client
}

func New(cfg *config.Config, log *zap.Logger, opts Options) (_ *App, err error) {
	app := &App{config: cfg, log: log, metrics: monitoring.NewMetrics()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	poolConfig := database.DefaultPoolConfig()
	poolConfig.DSN = cfg.DatabaseDSN()
	poolConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	poolConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	poolConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
	poolConfig.LogLevel = gormLogLevel(cfg.Database.LogLevel)
	poolConfig.Logger = log

	app.db, err = database.NewDatabasePool(poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := app.db.Migrate(); err != nil {
		return nil, err
	}

	if cfg.NeedsRedis() {
		app.redis = opts.Redis
		if app.redis == nil {
			app.redis = cache.NewRedisClient(&cache.CacheConfig{
				Addr:         cfg.GetRedisAddr(),
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
				MaxRetries:   cfg.Redis.MaxRetries,
				DialTimeout:  cfg.Redis.DialTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
		}
	}

	if app.cache, err = app.buildCache(); err != nil {
		return nil, err
	}
	app.buildBroadcast()

	ttl := services.CacheTTLs{
		DashboardStats: cfg.Cache.DashboardTTL,
		RecentTasks:    cfg.Cache.RecentTasksTTL,
		Categories:     cfg.Cache.CategoriesTTL,
		TaskList:       cfg.Cache.TaskListTTL,
	}
	app.Auth = services.NewAuthService(app.db.DB, services.AuthOptions{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		TokenTTL:   cfg.Auth.AccessTokenTTL,
		BCryptCost: cfg.Auth.BCryptCost,
	})
	app.Tasks = services.NewTaskService(app.db.DB, app.cache, app.publisher, log.Named("tasks"), ttl)
	app.Dashboard = services.NewDashboardService(app.db.DB, app.cache, log.Named("dashboard"), ttl)
	app.Categories = services.NewCategoryService(app.db.DB, app.cache, log.Named("categories"), ttl)
	app.Users = services.NewUserService(app.db.DB, app.Auth, app.cache, log.Named("users"))

	app.warmer = cache.NewCacheWarmer(app.cache, log.Named("warmer"), cfg.Cache.WarmSchedule)
	app.warmer.Register(cache.WarmupJob{
		Key: cache.CategoryListKey,
		TTL: ttl.Categories,
		Load: func(ctx context.Context) (interface{}, error) {
			return app.Categories.Refresh(ctx)
		},
	})

	app.health = monitoring.NewHealthChecker(5 * time.Second)
	app.health.Register("database", func(context.Context) error { return app.db.Health() })
	app.health.Register("cache", app.cache.Health)
	if app.redis != nil {
		app.health.Register("redis", func(ctx context.Context) error { return app.redis.Ping(ctx).Err() })
	}

	if cfg.RateLimit.Enabled {
		app.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.BurstSize,
			IdleTTL:           cfg.RateLimit.CleanupInterval,
		})
	}

	app.router = app.routes()
	return app, nil
}

// buildCache layers the breaker and instrumentation over the chosen backend.
func (a *App) buildCache() (cache.Cache, error) {
	var backend cache.Cache
	switch a.config.Cache.Driver {
	case "memory":
		mem, err := cache.NewMemoryCache(&cache.MemoryConfig{
			Capacity:           a.config.Cache.MemoryCapacity,
			Shards:             a.config.Cache.MemoryShards,
			MaxTTL:             24 * time.Hour,
			EvictionPercentage: 10,
		})
		if err != nil {
			return nil, err
		}
		backend = mem
	default:
		backend = cache.NewBreakerCache(
			cache.NewRedisCacheWithClient(a.redis, a.config.Cache.OpTimeout),
			cache.NewCircuitBreaker(&cache.CircuitBreakerConfig{
				MaxFailures:      a.config.Cache.BreakerFailures,
				Timeout:          a.config.Cache.BreakerTimeout,
				HalfOpenMaxCalls: 3,
			}),
		)
	}
	return cache.NewInstrumentedCache(backend, cache.NewCacheMetrics(), a.metrics), nil
}

func (a *App) buildBroadcast() {
	switch a.config.Broadcast.Driver {
	case "memory":
		a.broker = events.NewMemoryBroker()
	default:
		a.broker = events.NewRedisBroker(a.redis, a.log.Named("broker"))
	}
	a.pool = worker.NewPool(worker.Config{
		QueueSize:   a.config.Broadcast.QueueSize,
		Concurrency: a.config.Broadcast.Workers,
		JobTimeout:  a.config.Broadcast.PublishTimeout,
	}, a.log.Named("broadcast"))
	a.publisher = events.NewAsyncPublisher(a.broker, a.pool, a.log.Named("broadcast"), a.metrics)
}

func (a *App) routes() *gin.Engine {
	if a.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = a.config.Server.AllowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.SocketIDHeader, middleware.RequestIDHeader)
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}

	router.Use(
		middleware.RequestID(),
		middleware.RecoveryWithLog(),
		middleware.RequestLogger(a.log.Named("http")),
		a.metrics.Middleware(),
		cors.New(corsConfig),
	)

	router.GET("/health", a.health.HealthHandler())
	router.GET("/health/live", a.health.LivenessHandler())
	router.GET("/health/ready", a.health.ReadinessHandler())
	router.GET("/metrics", a.metrics.Handler())

	api := router.Group("/api")
	if a.limiter != nil {
		api.Use(a.limiter.Middleware())
	}

	authHandler := handlers.NewAuthHandler(a.Auth)
	api.POST("/auth/register", authHandler.Registration)
	api.POST("/auth/login", authHandler.Token)

	protected := api.Group("")
	protected.Use(middleware.RequireAuth(a.Auth), middleware.SocketID())

	userHandler := handlers.NewUserHandler(a.Users)
	protected.GET("/users/me", userHandler.GetUserProfile)
	protected.PUT("/users/me", userHandler.UpdateUserProfile)
	protected.DELETE("/users/me", userHandler.DeleteUser)

	protected.GET("/dashboard", handlers.NewDashboardHandler(a.Dashboard, a.Categories).Dashboard)

	taskHandler := handlers.NewTaskHandler(a.Tasks)
	protected.GET("/tasks", taskHandler.ListTasks)
	protected.POST("/tasks", taskHandler.CreateTask)
	protected.GET("/tasks/:id", taskHandler.GetTask)
	protected.PUT("/tasks/:id", taskHandler.UpdateTask)
	protected.PATCH("/tasks/:id/status", taskHandler.UpdateTaskStatus)
	protected.DELETE("/tasks/:id", taskHandler.DeleteTask)

	categoryHandler := handlers.NewCategoryHandler(a.Categories)
	protected.GET("/categories", categoryHandler.ListCategories)
	protected.POST("/categories", categoryHandler.CreateCategory)
	protected.PUT("/categories/:id", categoryHandler.UpdateCategory)
	protected.DELETE("/categories/:id", categoryHandler.DeleteCategory)

	a.streams = handlers.NewBroadcastHandler(a.broker, a.config.Broadcast.Heartbeat, a.log.Named("sse"), a.metrics)
	protected.GET("/broadcasting/tasks/:user_id", a.streams.StreamTasks)

	return router
}

func (a *App) Handler() http.Handler {
	return a.router
}

// Seed loads the demo data set.
func (a *App) Seed(ctx context.Context) error {
	return database.Seed(ctx, a.db.DB, a.Auth.HashPassword, time.Now().UTC(), a.log.Named("seed"))
}

// Run serves HTTP and the background jobs until ctx is cancelled, then shuts
// the server down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	// No WriteTimeout: event streams stay open indefinitely.
	srv := &http.Server{
		Addr:        a.config.GetServerAddr(),
		Handler:     a.router,
		ReadTimeout: a.config.Server.ReadTimeout,
		IdleTimeout: a.config.Server.IdleTimeout,
	}
	// Shutdown waits for active connections, so open event streams are told
	// to end first.
	srv.RegisterOnShutdown(a.streams.Close)

	a.pool.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.warmer.WarmNow(gctx)
		if err := a.warmer.Start(gctx); err != nil {
			a.log.Warn("cache warmer disabled", zap.Error(err))
		}
		return nil
	})
	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gctx, a.config.RateLimit.CleanupInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.warmer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")

		err := srv.Shutdown(shutdownCtx)
		if perr := a.pool.Stop(shutdownCtx); perr != nil {
			a.log.Warn("broadcast queue not drained", zap.Error(perr))
		}
		return err
	})
	return g.Wait()
}

// Close releases connections. It is safe to call on a partly built App.
func (a *App) Close() error {
	var errs []error
	if a.warmer != nil {
		a.warmer.Stop()
	}
	if a.pool != nil {
		if err := a.pool.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
