// Package featureflags is the Go client SDK for the platform's Evaluation
// Service. It maintains a local config snapshot via ETag-conditional
// polling, evaluates flags locally against the same rule engine the
// server runs, and falls back to a remote call and then the caller's
// default on any failure (spec.md §4.7). Grounded on the teacher's
// sdk/go package shape — one Client composed of narrowly-scoped
// collaborators (cache, evaluator, events) each in their own file.
package featureflags

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client is the SDK's public entry point. Safe for concurrent use.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	snapshots  *snapshotStore
	evaluator  *evaluator
	analytics  *analyticsBuffer
	events     *eventBus
	poller     *poller
	logger     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient validates cfg, brings up every collaborator, and issues the
// first config fetch before returning. A failed first fetch is not a
// fatal error — the client is still usable via remote fallback — so it is
// logged and emitted as an error event, and NewClient still returns a nil
// error.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "featureflags-sdk").Logger()

	httpClient := &http.Client{Timeout: cfg.Timeout}
	snapshots := newSnapshotStore()
	events := newEventBus()

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		snapshots:  snapshots,
		events:     events,
		analytics:  newAnalyticsBuffer(),
		logger:     logger,
		evaluator: &evaluator{
			snapshots: snapshots, httpClient: httpClient, baseURL: cfg.BaseURL,
			apiKey: cfg.APIKey, environment: cfg.Environment, timeout: cfg.Timeout,
			localEval: cfg.EnableLocalEvaluation,
		},
	}
	c.poller = newPoller(cfg, snapshots, events, httpClient, logger)
	c.poller.start(context.Background())

	logger.Info().
		Str("environment", cfg.Environment).
		Str("base_url", cfg.BaseURL).
		Bool("local_evaluation", cfg.EnableLocalEvaluation).
		Bool("analytics", cfg.EnableAnalytics).
		Msg("feature flags client initialized")

	return c, nil
}

// WaitForReady blocks until the SDK reaches Ready/Polling, or ctx expires.
// The SDK transitions to Polling even after a failed initial fetch, so
// this returns once the state machine has settled either way.
func (c *Client) WaitForReady(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.poller.currentState() != stateInitializing {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Subscribe returns a channel receiving every event of the given type.
func (c *Client) Subscribe(t EventType) <-chan Event {
	return c.events.Subscribe(t)
}

// EvaluateFlag runs the spec.md §4.7 evaluation order for one flag. It
// never returns an error for a missing/unreachable upstream: the result's
// Value is the caller's default and Reason names the cause.
func (c *Client) EvaluateFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue any) EvaluationResult {
	if defaultValue == nil {
		if fv, ok := c.cfg.FallbackValues[flagKey]; ok {
			defaultValue = fv
		}
	}

	if c.isClosed() {
		return EvaluationResult{FlagKey: flagKey, Value: defaultValue, Reason: ReasonEvaluationError, DefaultUsed: true, EvaluatedAt: time.Now()}
	}

	result, err := c.evaluator.evaluate(ctx, flagKey, userCtx, defaultValue)
	if err != nil {
		c.events.emit(Event{
			Type: EventEvaluationError, Timestamp: time.Now(), FlagKey: flagKey,
			DefaultValue: defaultValue, Reason: ReasonEvaluationError, Err: err,
		})
		return result
	}

	c.events.emit(Event{Type: EventEvaluation, Timestamp: time.Now(), FlagKey: flagKey, VariantKey: result.VariantKey, Reason: result.Reason})
	if c.cfg.EnableAnalytics {
		c.analytics.record(flagKey, result.VariantKey, result.Reason, userCtx, result.EvaluatedAt)
	}
	return result
}

// EvaluateBoolFlag, EvaluateStringFlag, EvaluateIntFlag, EvaluateFloatFlag
// and EvaluateJSONFlag are typed conveniences over EvaluateFlag; each
// falls back to defaultValue if the stored value isn't the expected type
// (a mismatch between a flag's configured type and the caller's
// expectation is treated the same as an upstream failure).

func (c *Client) EvaluateBoolFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue bool) bool {
	result := c.EvaluateFlag(ctx, flagKey, userCtx, defaultValue)
	if v, ok := result.Value.(bool); ok {
		return v
	}
	return defaultValue
}

func (c *Client) EvaluateStringFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue string) string {
	result := c.EvaluateFlag(ctx, flagKey, userCtx, defaultValue)
	if v, ok := result.Value.(string); ok {
		return v
	}
	return defaultValue
}

func (c *Client) EvaluateIntFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue int) int {
	result := c.EvaluateFlag(ctx, flagKey, userCtx, defaultValue)
	switch v := result.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

func (c *Client) EvaluateFloatFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue float64) float64 {
	result := c.EvaluateFlag(ctx, flagKey, userCtx, defaultValue)
	switch v := result.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return defaultValue
	}
}

func (c *Client) EvaluateJSONFlag(ctx context.Context, flagKey string, userCtx UserContext, defaultValue any) any {
	return c.EvaluateFlag(ctx, flagKey, userCtx, defaultValue).Value
}

// EvaluateBatch evaluates every requested flag concurrently and returns a
// keyed result map (spec.md §4.7 "batch evaluation runs element
// evaluations concurrently").
func (c *Client) EvaluateBatch(ctx context.Context, flagKeys []string, userCtx UserContext, defaults map[string]any) map[string]EvaluationResult {
	results := make(map[string]EvaluationResult, len(flagKeys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, key := range flagKeys {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.EvaluateFlag(ctx, key, userCtx, defaults[key])
			mu.Lock()
			results[key] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// FlushAnalytics drains the retained analytics buffer and emits an
// analyticsFlush event carrying the snapshot (spec.md §4.7).
func (c *Client) FlushAnalytics() []AnalyticsRecord {
	records := c.analytics.drain()
	c.events.emit(Event{Type: EventAnalyticsFlush, Timestamp: time.Now(), Records: records})
	return records
}

// Stats reports the number of flags currently held locally and how many
// analytics records are buffered.
func (c *Client) Stats() (cachedFlags, bufferedAnalytics int) {
	return c.snapshots.size(), c.analytics.len()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close transitions the client to Destroyed: polling is cancelled,
// pending analytics are flushed, and subscribers are detached
// (spec.md §4.7).
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.poller.stop()
	c.FlushAnalytics()
	c.events.close()

	c.logger.Info().Msg("feature flags client closed")
	return nil
}
