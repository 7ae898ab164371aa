// Package server wires the control plane's dependencies and HTTP routes.
// Grounded on the teacher's cmd/control-plane/internal/server/server.go
// (single New() constructor sequencing pool/redis/nats init, SetupRoutes
// mounting handlers onto a chi.Router), narrowed to the Flag Store +
// Config Cache the platform's mutation surface actually needs.
package server

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/cmd/control-plane/internal/handlers"
	"github.com/flagforge/platform/cmd/control-plane/internal/middleware"
	"github.com/flagforge/platform/pkg/cachekv"
	"github.com/flagforge/platform/pkg/config"
	"github.com/flagforge/platform/pkg/store"
)

// Server holds every long-lived dependency the control plane needs.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	nats     *nats.Conn
	store    *store.Store
	cache    *cachekv.Cache
	handlers *handlers.Handlers
}

// New sequentially brings up the database pool, Redis client, and (best
// effort) NATS connection, then wires the repository and cache layers.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// NATS backs cross-replica cache-invalidation notify (SPEC_FULL.md
	// §2); its absence must never block control-plane mutations, so a
	// connection failure is logged, not fatal.
	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; cache-invalidation broadcast disabled")
		natsConn = nil
	}

	st := store.New(pool, logger)
	cache := cachekv.New(redisClient, logger)
	h := handlers.New(st, cache, natsConn, logger)

	return &Server{
		cfg: cfg, logger: logger, pool: pool, redis: redisClient, nats: natsConn,
		store: st, cache: cache, handlers: h,
	}, nil
}

// SetupRoutes mounts every endpoint named in spec.md §6.
func (s *Server) SetupRoutes(r chi.Router) {
	r.Get("/health", s.handlers.Health)
	r.Get("/test-db", s.handlers.TestDB)

	r.Group(func(api chi.Router) {
		api.Use(middleware.RequireAPIKey(s.cfg.Auth.APIKey))

		api.Route("/api/flags", func(flags chi.Router) {
			flags.Get("/", s.handlers.ListFlags)
			flags.Post("/", s.handlers.CreateFlag)
			flags.Route("/{key}", func(flag chi.Router) {
				flag.Get("/", s.handlers.GetFlag)
				flag.Delete("/", s.handlers.DeleteFlag)
				flag.Post("/kill-switch", s.handlers.KillSwitch)
				flag.Route("/environments/{env}", func(env chi.Router) {
					env.Put("/", s.handlers.UpdateFlagConfig)
					env.Patch("/toggle", s.handlers.ToggleFlag)
				})
			})
		})

		api.Get("/api/system/overview", s.handlers.SystemOverview)
		api.Get("/api/cache/status", s.handlers.CacheStatus)
		api.Delete("/api/cache/flags/{key}", s.handlers.InvalidateFlagCache)
	})
}

// Close releases every long-lived resource, in reverse acquisition order.
func (s *Server) Close() error {
	if s.nats != nil {
		s.nats.Close()
	}
	redisErr := s.redis.Close()
	s.store.Close()
	return redisErr
}
