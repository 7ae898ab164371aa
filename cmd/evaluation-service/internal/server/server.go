// Package server wires the Evaluation Service's dependencies and HTTP
// routes. Grounded on cmd/control-plane/internal/server/server.go's
// construction sequence, plus go-chi/httprate rate limiting on the hot
// evaluate path as TimurManjosov-goflagship uses it (SPEC_FULL.md Domain
// Stack table); httprate is not a teacher dependency.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/cmd/evaluation-service/internal/eval"
	"github.com/flagforge/platform/cmd/evaluation-service/internal/handlers"
	"github.com/flagforge/platform/pkg/analytics"
	"github.com/flagforge/platform/pkg/cachekv"
	"github.com/flagforge/platform/pkg/config"
	"github.com/flagforge/platform/pkg/store"
)

// cacheInvalidateSubject must match cmd/control-plane/internal/handlers'
// publishing subject: this is the consumer side of that broadcast.
const cacheInvalidateSubject = "ff.cache.invalidate"

// Server holds every long-lived dependency the evaluation service needs.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	nats     *nats.Conn
	sub      *nats.Subscription
	store    *store.Store
	cache    *cachekv.Cache
	recorder *analytics.Recorder
	eval     *eval.Service
	handlers *handlers.Handlers
}

// New brings up the database pool and Redis client, then wires the
// evaluation service and its handlers.
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

	// ClickHouse backs the append-only flag_evaluations sink (SPEC_FULL.md
	// §2 Domain Stack). It is best effort: an evaluation service with no
	// CLICKHOUSE_ADDR configured, or one it cannot reach, still serves
	// evaluations, just without analytics retention.
	recorder := analytics.NewRecorder(newClickHouseConn(cfg, logger), logger)

	st := store.New(pool, logger)
	cache := cachekv.New(redisClient, logger)
	evalSvc := eval.New(st, cache, recorder, logger)
	h := handlers.New(evalSvc, st, cache, logger)

	// NATS is this replica's consumer side of the control plane's
	// cache-invalidation broadcast (SPEC_FULL.md §2). This node's L1 tier
	// has no TTL and is read before Redis, so without it a mutation
	// committed by another process stays invisible here until the entry is
	// cleared through DELETE /cache/{flag_key} or the process restarts
	// (spec.md §4.4 invariant 6). A connection/subscribe failure is logged, not fatal:
	// the service still serves evaluations from Redis/the store.
	natsConn, sub, err := subscribeInvalidation(cfg, cache, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; cross-replica cache invalidation disabled")
	}

	return &Server{
		cfg: cfg, logger: logger, pool: pool, redis: redisClient, nats: natsConn, sub: sub,
		store: st, cache: cache, recorder: recorder, eval: evalSvc, handlers: h,
	}, nil
}

// subscribeInvalidation connects to NATS and subscribes to the
// cache-invalidation subject, evicting the matching L1 entry on each
// message. The payload is "<flagKey>:<environment>", written by
// cmd/control-plane/internal/handlers.publishInvalidation.
func subscribeInvalidation(cfg *config.Config, cache *cachekv.Cache, logger zerolog.Logger) (*nats.Conn, *nats.Subscription, error) {
	conn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	sub, err := conn.Subscribe(cacheInvalidateSubject, func(msg *nats.Msg) {
		flagKey, environment, ok := strings.Cut(string(msg.Data), ":")
		if !ok {
			logger.Warn().Str("payload", string(msg.Data)).Msg("malformed cache-invalidation message")
			return
		}
		cache.InvalidateLocal(flagKey, environment)
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, sub, nil
}

// newClickHouseConn opens a ClickHouse connection for the analytics
// recorder, or returns nil if unconfigured or unreachable.
func newClickHouseConn(cfg *config.Config, logger zerolog.Logger) clickhouse.Conn {
	if cfg.ClickHouse.Addr == "" {
		return nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouse.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("clickhouse unavailable; evaluation analytics disabled")
		return nil
	}
	if err := conn.Ping(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("clickhouse ping failed; evaluation analytics disabled")
		return nil
	}
	return conn
}

// SetupRoutes mounts every endpoint named in spec.md §6. The evaluate
// endpoints are rate-limited per client IP: this is the platform's
// highest-traffic surface and must degrade gracefully under load
// instead of overwhelming the store and cache tiers.
func (s *Server) SetupRoutes(r chi.Router) {
	r.Get("/health", s.handlers.Health)
	r.Get("/stats", s.handlers.Stats)
	r.Get("/cache", s.handlers.CacheEntries)
	r.Delete("/cache/{flag_key}", s.handlers.InvalidateFlagCache)
	r.Get("/sdk/config", s.handlers.SDKConfig)

	r.Group(func(eval chi.Router) {
		eval.Use(httprate.LimitByIP(1000, time.Minute))
		eval.Post("/evaluate", s.handlers.Evaluate)
		eval.Post("/evaluate/batch", s.handlers.EvaluateBatch)
	})
}

// Close releases every long-lived resource, in reverse acquisition order.
func (s *Server) Close() error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nats != nil {
		s.nats.Close()
	}
	s.recorder.Close()
	redisErr := s.redis.Close()
	s.store.Close()
	return redisErr
}
