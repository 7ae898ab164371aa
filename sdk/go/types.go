package featureflags

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// UserContext mirrors the evaluate request body's user_context field
// (spec.md §6), plus a client-side SessionID that is neither sent to the
// server nor included in analytics records.
type UserContext struct {
	UserID           string            `json:"user_id"`
	SessionID        string            `json:"session_id,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	CustomAttributes map[string]string `json:"custom_attributes,omitempty"`
}

// EvaluationResult is what EvaluateFlag and its typed wrappers return.
type EvaluationResult struct {
	FlagKey     string    `json:"flag_key"`
	Value       any       `json:"value"`
	VariantKey  string    `json:"variant_key"`
	Reason      string    `json:"reason"`
	DefaultUsed bool      `json:"default_used"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Reason tags declared by the SDK alongside the rule engine's own
// vocabulary (pkg/ruleengine's Reason* constants). ReasonEvaluationError
// is set when the SDK falls back to the caller's default; no code path in
// this package sets ReasonRemoteEvaluated.
const (
	ReasonRemoteEvaluated = "remote_evaluated"
	ReasonEvaluationError = "evaluation_error"
)

// Config holds every setting NewClient accepts (spec.md §4.7).
type Config struct {
	APIKey      string
	BaseURL     string
	Environment string

	PollInterval time.Duration
	Timeout      time.Duration

	EnableAnalytics       bool
	EnableLocalEvaluation bool
	FallbackValues        map[string]any

	Logger zerolog.Logger
}

// DefaultConfig returns the spec's documented defaults: production
// environment, 30s polling, 5s remote-call timeout, both local
// evaluation and analytics on.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:8081",
		Environment:           "production",
		PollInterval:          30 * time.Second,
		Timeout:               5 * time.Second,
		EnableAnalytics:       true,
		EnableLocalEvaluation: true,
		FallbackValues:        map[string]any{},
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("featureflags: api key is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("featureflags: base url is required")
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FallbackValues == nil {
		c.FallbackValues = map[string]any{}
	}
	return nil
}

// Snapshot is the wire shape of one element of GET /sdk/config's "flags"
// array — it decodes a subset of pkg/store.Snapshot's JSON fields, using
// the same tags. The
// SDK does not import pkg/store directly (that would pull pgx and the
// rest of the server's storage stack into every consumer's binary); this
// is a deliberately independent decode target for the same contract.
type Snapshot struct {
	Flag     FlagMeta   `json:"flag"`
	Config   FlagConfig `json:"config"`
	Variants []Variant  `json:"variants"`
	Rules    []Rule     `json:"rules"`
}

type FlagMeta struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

type FlagConfig struct {
	Enabled        bool   `json:"enabled"`
	DefaultVariant string `json:"default_variant"`
	RolloutPercent int    `json:"rollout_percent"`
}

type Variant struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Weight int    `json:"weight"`
}

type Rule struct {
	Type           string `json:"type"`
	Priority       int    `json:"priority"`
	VariantKey     string `json:"variant_key"`
	Percentage     int    `json:"percentage"`
	AttributeName  string `json:"attribute_name"`
	Operator       string `json:"operator"`
	AttributeValue string `json:"attribute_value"`
}

// sdkConfigResponse is the wire shape of GET /sdk/config's 200 body.
type sdkConfigResponse struct {
	Environment string     `json:"environment"`
	ETag        string     `json:"etag"`
	Flags       []Snapshot `json:"flags"`
}

// evaluateRequest is the wire shape of POST /evaluate's body.
type evaluateRequest struct {
	FlagKey      string      `json:"flag_key"`
	UserContext  userContext `json:"user_context"`
	Environment  string      `json:"environment,omitempty"`
	DefaultValue any         `json:"default_value,omitempty"`
}

type userContext struct {
	UserID     string            `json:"user_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Custom     map[string]string `json:"custom_attributes,omitempty"`
}

// evaluateResponse is the wire shape of POST /evaluate's 200 body.
type evaluateResponse struct {
	FlagKey    string `json:"flag_key"`
	Value      any    `json:"value"`
	VariantKey string `json:"variant_key"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

