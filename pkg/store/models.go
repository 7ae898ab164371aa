package store

import (
	"time"

	"github.com/google/uuid"
)

// Environment is a fixed deployment scope: development, staging, production.
type Environment struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Flag is the authored entity: a globally unique key with a variant set,
// one FlagConfig per known environment, and a soft-delete bit.
type Flag struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Key         string    `json:"key" db:"key"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Type        string    `json:"type" db:"type"` // boolean, string, number, json
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FlagConfig is the per-(flag, environment) row.
type FlagConfig struct {
	ID              uuid.UUID `json:"id" db:"id"`
	FlagID          uuid.UUID `json:"flag_id" db:"flag_id"`
	Environment     string    `json:"environment" db:"environment"`
	Enabled         bool      `json:"enabled" db:"enabled"`
	DefaultVariant  string    `json:"default_variant" db:"default_variant"`
	RolloutPercent  int       `json:"rollout_percent" db:"rollout_percent"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Variant is one named, weighted value belonging to a flag (shared across
// every environment's config).
type Variant struct {
	ID     uuid.UUID `json:"id" db:"id"`
	FlagID uuid.UUID `json:"flag_id" db:"flag_id"`
	Key    string    `json:"key" db:"key"`
	Value  string    `json:"value" db:"value"`
	Weight int       `json:"weight" db:"weight"`
}

// Rule is one targeting rule belonging to a FlagConfig.
type Rule struct {
	ID             uuid.UUID `json:"id" db:"id"`
	FlagConfigID   uuid.UUID `json:"flag_config_id" db:"flag_config_id"`
	Type           string    `json:"type" db:"type"`
	Priority       int       `json:"priority" db:"priority"`
	VariantKey     string    `json:"variant_key" db:"variant_key"`
	Percentage     int       `json:"percentage" db:"percentage"`
	AttributeName  string    `json:"attribute_name" db:"attribute_name"`
	Operator       string    `json:"operator" db:"operator"`
	AttributeValue string    `json:"attribute_value" db:"attribute_value"`
}

// Snapshot is the pre-joined {flag, config, variants, rules} tuple that the
// Config Cache stores and the Rule Engine consumes.
type Snapshot struct {
	Flag     Flag       `json:"flag"`
	Config   FlagConfig `json:"config"`
	Variants []Variant  `json:"variants"`
	Rules    []Rule     `json:"rules"`
}

// AuditEntry records one mutation for the audit trail. Write-only: the
// platform exposes no audit query surface.
type AuditEntry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	Actor      string    `json:"actor" db:"actor"`
	Diff       string    `json:"diff" db:"diff"` // JSON-encoded
	Severity   string    `json:"severity" db:"severity"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CreateFlagRequest is the input to CreateFlag.
type CreateFlagRequest struct {
	Key              string
	Name             string
	Description      string
	Type             string
	Variants         []Variant // optional; defaults to boolean true/false @ weight 50
	Actor            string
}

// FlagConfigPatch is the input to UpdateFlagConfig; only non-nil fields are
// applied.
type FlagConfigPatch struct {
	Enabled        *bool
	DefaultVariant *string
	RolloutPercent *int
	Rules          []Rule // if non-nil, replaces the rule set wholesale
}
