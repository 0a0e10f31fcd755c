package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-builders/points-backend/internal/cache/memory"
	rediscache "github.com/open-builders/points-backend/internal/cache/redis"
	"github.com/open-builders/points-backend/internal/common/logger"
	"github.com/open-builders/points-backend/internal/config"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	apphttp "github.com/open-builders/points-backend/internal/http"
	mw "github.com/open-builders/points-backend/internal/http/middleware"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/platform/db"
	redisplatform "github.com/open-builders/points-backend/internal/platform/redis"
	memstore "github.com/open-builders/points-backend/internal/repository/memory"
	"github.com/open-builders/points-backend/internal/repository/postgres"
	"github.com/open-builders/points-backend/internal/scoring"
	"github.com/open-builders/points-backend/internal/service/bonus"
	"github.com/open-builders/points-backend/internal/service/login"
	"github.com/open-builders/points-backend/internal/service/profile"
	"github.com/open-builders/points-backend/internal/service/recovery"
	"github.com/open-builders/points-backend/internal/service/session"
	"github.com/open-builders/points-backend/internal/workers"
)

// @title           Points API
// @version         1.0
// @description     Profile, points and session API for the Telegram mini app. All endpoints except /health and /live require init data.

// @BasePath  /

// @securityDefinitions.apikey TelegramInitData
// @in header
// @name X-Telegram-Init-Data
// @description Telegram Mini App init data string

// @tag.name profile
// @tag.description Profile, login reconciliation and founding member bonus

// @tag.name sessions
// @tag.description Session recording, limits and answer edits

// @tag.name admin
// @tag.description Points recovery

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	logger.Init("points-backend", cfg.Debug)

	store, checks, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("store open failed")
	}
	defer closeStore()

	rdb := openRedis(ctx, cfg)
	var (
		cache  domain.Cache        = memory.NewProfileCache()
		legacy domain.LegacySource = memory.NewLegacySessions()
	)
	if rdb != nil {
		defer rdb.Close()
		cache = rediscache.NewProfileCache(rdb, cfg.CacheMaxAge())
		legacy = rediscache.NewLegacySessions(rdb)
		checks = append(checks, apphttp.HealthCheck{Name: "redis", Check: rdb.HealthCheck})
	}

	members := membership.NewAllowList(cfg.Membership.Handles)
	if cfg.Membership.File != "" {
		if err := members.Watch(ctx, cfg.Membership.File); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Membership.File).Msg("founding member list load failed")
		}
		defer members.Close()
	}
	logger.Info().Int("handles", members.Size()).Msg("founding member list loaded")

	enforcer := bonus.NewEnforcer(store, members)
	profiles := profile.NewRepository(store, cache, enforcer, members, profile.Options{CacheMaxAge: cfg.CacheMaxAge()})
	sessions := session.NewService(store, legacy, scoring.Heuristic{}, session.Limits{
		MaxSessions:     cfg.Points.MaxSessionsPerDay,
		Window:          cfg.Points.SessionWindow,
		DuplicateWindow: cfg.Points.DuplicateWindow,
		LegacyCutover:   cfg.Points.LegacyCutover,
		MaxLegacyPoints: cfg.Points.MaxLegacyPoints,
	})
	recoverySvc := recovery.NewService(store, enforcer, members, recovery.BatchOptions{
		PageSize:       cfg.Recovery.PageSize,
		MaxPointChange: cfg.Recovery.MaxPointChange,
		MaxTotalChange: cfg.Recovery.MaxTotalChange,
		MaxErrorRate:   cfg.Recovery.MaxErrorRate,
		MinSample:      cfg.Recovery.MinSample,
		PageDelay:      cfg.Recovery.PageDelay,
	})
	loginSvc := login.NewService(profiles, enforcer, sessions, recoverySvc)

	if rdb != nil && cfg.Worker.Enabled {
		worker := workers.NewRedisStreamWorker(rdb, enforcer, recoverySvc, workers.Options{
			Consumer: cfg.Worker.Consumer,
			MinIdle:  cfg.Worker.ReclaimIdle,
		})
		go worker.Start(ctx)
	}

	unsubscribe := profiles.Subscribe(func(p *domain.Profile) {
		logger.Debug().Int64("user_id", p.UserID).Int("points", p.Points).Msg("profile saved")
	})
	defer unsubscribe()

	router := apphttp.NewRouter(apphttp.Deps{
		Profiles: profiles,
		Sessions: sessions,
		Bonus:    enforcer,
		Login:    loginSvc,
		Recovery: recoverySvc,
		Auth:     mw.InitData(cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL),
		IsAdmin:  cfg.IsAdmin,
		Origins:  []string{cfg.Server.Origin},
		Checks:   checks,
		Debug:    cfg.Debug,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Str("store", cfg.Store.Driver).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (domain.Store, []apphttp.HealthCheck, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.NewStore(), nil, func() {}, nil
	}

	sqlDB, err := db.Open(ctx, cfg.Postgres.DSN, db.Options{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, nil, err
		}
	}
	checks := []apphttp.HealthCheck{{Name: "postgres", Check: sqlDB.PingContext}}
	return postgres.NewProfileStore(sqlDB, cfg.Postgres.QueryTimeout), checks, func() { _ = sqlDB.Close() }, nil
}

// openRedis returns nil when Redis is disabled or unreachable; the process
// then runs with in-memory caches and without the events worker.
func openRedis(ctx context.Context, cfg *config.Config) *redisplatform.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := redisplatform.Open(ctx, redisplatform.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr()).Msg("redis unavailable, falling back to in-memory cache")
		return nil
	}
	return client
}
