package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskboard/backend/internal/cache"
	"taskboard/backend/internal/config"
	"taskboard/backend/internal/database"
	"taskboard/backend/internal/handlers"
	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/monitoring"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/scheduler"
	"taskboard/backend/internal/services"
	"taskboard/backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if cfg.Server.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbLogLevel := logger.Warn
	if cfg.Server.Debug {
		dbLogLevel = logger.Info
	}
	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.GetDatabaseDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        dbLogLevel,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer pool.Close()

	if err := database.Migrate(pool.DB); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}
	monitoring.RegisterHealthCheck("database", func(context.Context) error { return pool.Health() })
	monitoring.RegisterStats("database", func() interface{} { return pool.Stats() })

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = cache.NewRedisClient(&cache.CacheConfig{
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
		defer redisClient.Close()
		monitoring.RegisterHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var l2 cache.Cache
	if redisClient != nil {
		l2 = cache.NewRedisCacheWithClient(redisClient, "taskboard:cache:", nil)
	}
	l1 := cache.NewMemoryCache(0)
	snapshots := cache.NewMultiLevelCache(l1, l2)
	monitoring.RegisterStats("cache", func() interface{} { return snapshots.Stats() })

	var joinTokens *realtime.JoinTokens
	if cfg.Realtime.RequireJoinToken {
		joinTokens = realtime.NewJoinTokens(cfg.Auth.JWTSecret, cfg.Realtime.JoinTokenTTL)
	}
	hub := realtime.NewHub(realtime.HubConfig{
		ClientBuffer:   cfg.Realtime.ClientBuffer,
		PingInterval:   cfg.Realtime.PingInterval,
		JoinTokens:     joinTokens,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	monitoring.RegisterStats("realtime", func() interface{} { return hub.Stats() })
	go hub.Run(ctx)

	var broadcaster realtime.Broadcaster = hub
	if cfg.Realtime.Backend == "redis" {
		relay := realtime.NewRedisRelay(redisClient, cfg.Realtime.ChannelPrefix, hub)
		go relay.Run(ctx)
		broadcaster = relay
	}
	broadcaster = services.NewSnapshotInvalidator(broadcaster, snapshots)

	var jobs worker.Enqueuer
	var jobWorker *worker.Worker
	var registry interface {
		RegisterHandler(worker.JobType, worker.JobHandler)
	}
	if redisClient != nil {
		jobWorker = worker.NewWorker(worker.WorkerConfig{
			RedisClient:  redisClient,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			Queues:       cfg.Worker.Queues,
		})
		queue := worker.NewJobQueue(redisClient)
		monitoring.RegisterStats("jobs", func() interface{} {
			sizes := map[string]int64{}
			for _, q := range cfg.Worker.Queues {
				if n, err := queue.GetQueueSize(context.Background(), q); err == nil {
					sizes[q] = n
				}
			}
			return sizes
		})
		jobs, registry = queue, jobWorker
	} else {
		inline := worker.NewInline()
		jobs, registry = inline, inline
	}

	guard := services.NewAccessGuard(pool.DB)
	engine := services.NewReorderEngine(pool.DB, guard, broadcaster)
	invitations := services.NewInvitationService(pool.DB, guard, broadcaster, worker.NewInvitationNotifier(jobs), cfg.Invitation.TTL)

	registry.RegisterHandler(worker.JobTypeInvitationEmail, worker.InvitationEmailHandler(worker.LogMailer{}, cfg.Invitation.AcceptURL))
	registry.RegisterHandler(worker.JobTypeInvitationCleanup, worker.InvitationCleanupHandler(invitations))

	cron := scheduler.New(jobs)
	if err := cron.EnqueueEvery(cfg.Invitation.CleanupSchedule, worker.QueueLow, worker.JobTypeInvitationCleanup); err != nil {
		log.WithError(err).Fatal("invalid invitation cleanup schedule")
	}
	if err := cron.Every("0 * * * * *", "cache sweep", func() {
		if n := l1.Sweep(); n > 0 {
			log.WithField("removed", n).Debug("expired cache entries swept")
		}
	}); err != nil {
		log.WithError(err).Fatal("invalid cache sweep schedule")
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMin:  cfg.RateLimit.RequestsPerMin,
			Burst:           cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
		})
		go limiter.Run(ctx)
	}

	corsConfig := cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
		}
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryWithLog(),
		middleware.RequestLogger(),
		monitoring.MetricsMiddleware(),
		cors.New(corsConfig),
	)

	router.GET("/metrics", monitoring.MetricsHandler())
	router.GET("/health", monitoring.HealthHandler())
	router.GET("/ready", monitoring.ReadinessHandler())
	router.GET("/live", monitoring.LivenessHandler())

	handlers.RegisterRoutes(router, handlers.RouteConfig{
		Auth: services.NewAuthService(pool.DB, services.AuthConfig{
			Secret:     cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			TokenTTL:   cfg.Auth.AccessTokenTTL,
			BCryptCost: cfg.Auth.BCryptCost,
		}),
		Boards: services.NewCachedBoardService(
			services.NewBoardService(pool.DB, guard, broadcaster),
			guard, snapshots, services.DefaultSnapshotTTL,
		),
		Lists:       services.NewListService(pool.DB, guard, engine, broadcaster),
		Tasks:       services.NewTaskService(pool.DB, guard, broadcaster),
		Comments:    services.NewCommentService(pool.DB, guard, broadcaster),
		Invitations: invitations,
		Guard:       guard,
		Authz: middleware.AuthzConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
		},
		JoinTokens:  joinTokens,
		Hub:         hub,
		RateLimiter: limiter,
	})

	if jobWorker != nil {
		jobWorker.Start()
	}
	cron.Start()

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":     srv.Addr,
			"env":      cfg.Server.Environment,
			"realtime": cfg.Realtime.Backend,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown did not complete")
	}
	hub.Shutdown()
	cron.Stop()
	if jobWorker != nil {
		jobWorker.Stop()
	}
	log.Info("shutdown complete")
}
