package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const maxPageSize = 100

// CreateFlag inserts a flag, its variants (supplied or a default boolean
// pair), and one FlagConfig per known environment, all inside one
// transaction. Partial success is forbidden (spec.md §3, §4.3).
func (s *Store) CreateFlag(ctx context.Context, req CreateFlagRequest) (*Flag, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create flag tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM feature_flags WHERE key = $1)`, req.Key).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check flag key collision: %w", err)
	}
	if exists {
		return nil, ErrAlreadyExists
	}

	flag := &Flag{ID: uuid.New(), Key: req.Key, Name: req.Name, Description: req.Description, Type: req.Type, Active: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO feature_flags (id, key, name, description, flag_type, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at, updated_at
	`, flag.ID, flag.Key, flag.Name, flag.Description, flag.Type).Scan(&flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert flag: %w", err)
	}

	variants := req.Variants
	if len(variants) == 0 {
		variants = []Variant{
			{Key: "true", Value: "true", Weight: 50},
			{Key: "false", Value: "false", Weight: 50},
		}
	}
	for i := range variants {
		variants[i].ID = uuid.New()
		variants[i].FlagID = flag.ID
		_, err := tx.Exec(ctx, `
			INSERT INTO flag_variants (id, flag_id, key, value, weight) VALUES ($1, $2, $3, $4, $5)
		`, variants[i].ID, variants[i].FlagID, variants[i].Key, variants[i].Value, variants[i].Weight)
		if err != nil {
			return nil, fmt.Errorf("insert variant %s: %w", variants[i].Key, err)
		}
	}

	envs, err := s.listEnvironmentsTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	for _, env := range envs {
		_, err := tx.Exec(ctx, `
			INSERT INTO flag_configs (flag_id, environment, enabled, default_variant, rollout_percent)
			VALUES ($1, $2, FALSE, 'false', 0)
		`, flag.ID, env.Name)
		if err != nil {
			return nil, fmt.Errorf("insert flag_config for env %s: %w", env.Name, err)
		}
	}

	diff, _ := json.Marshal(map[string]any{"key": flag.Key, "type": flag.Type, "environments": len(envs)})
	if err := writeAudit(ctx, tx, "flag", flag.ID.String(), "create", req.Actor, string(diff), "normal"); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create flag tx: %w", err)
	}
	return flag, nil
}

func (s *Store) listEnvironmentsTx(ctx context.Context, tx pgx.Tx) ([]Environment, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, created_at FROM environments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var envs []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// GetFlag returns an active flag by key, or ErrNotFound.
func (s *Store) GetFlag(ctx context.Context, key string) (*Flag, error) {
	f := &Flag{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, key, name, description, flag_type, active, created_at, updated_at
		FROM feature_flags WHERE key = $1 AND active = TRUE
	`, key).Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListFlags returns active flags, paginated, bounded to maxPageSize per
// page (spec.md §4.3).
func (s *Store) ListFlags(ctx context.Context, page, perPage int) ([]*Flag, int, error) {
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	rows, err := s.pool.Query(ctx, `
		SELECT id, key, name, description, flag_type, active, created_at, updated_at
		FROM feature_flags WHERE active = TRUE ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var flags []*Flag
	for rows.Next() {
		f := &Flag{}
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, 0, err
		}
		flags = append(flags, f)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM feature_flags WHERE active = TRUE`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return flags, total, rows.Err()
}

// GetFlagConfig returns the pre-joined {flag, config, variants, rules}
// snapshot for (flagKey, environment). Inactive flags are invisible.
func (s *Store) GetFlagConfig(ctx context.Context, flagKey, environment string) (*Snapshot, error) {
	flag := &Flag{}
	cfg := &FlagConfig{}
	err := s.pool.QueryRow(ctx, `
		SELECT f.id, f.key, f.name, f.description, f.flag_type, f.active, f.created_at, f.updated_at,
		       c.id, c.flag_id, c.environment, c.enabled, c.default_variant, c.rollout_percent, c.updated_at
		FROM feature_flags f
		JOIN flag_configs c ON c.flag_id = f.id
		WHERE f.key = $1 AND c.environment = $2 AND f.active = TRUE
	`, flagKey, environment).Scan(
		&flag.ID, &flag.Key, &flag.Name, &flag.Description, &flag.Type, &flag.Active, &flag.CreatedAt, &flag.UpdatedAt,
		&cfg.ID, &cfg.FlagID, &cfg.Environment, &cfg.Enabled, &cfg.DefaultVariant, &cfg.RolloutPercent, &cfg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	variants, err := s.variantsForFlag(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	rules, err := s.rulesForConfig(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Flag: *flag, Config: *cfg, Variants: variants, Rules: rules}, nil
}

func (s *Store) variantsForFlag(ctx context.Context, flagID uuid.UUID) ([]Variant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, flag_id, key, value, weight FROM flag_variants WHERE flag_id = $1 ORDER BY key`, flagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.FlagID, &v.Key, &v.Value, &v.Weight); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) rulesForConfig(ctx context.Context, configID uuid.UUID) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, flag_config_id, rule_type, priority, variant_key, percentage, attribute_name, operator, attribute_value
		FROM rollout_rules WHERE flag_config_id = $1 ORDER BY priority ASC
	`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.FlagConfigID, &r.Type, &r.Priority, &r.VariantKey, &r.Percentage, &r.AttributeName, &r.Operator, &r.AttributeValue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateFlagConfig applies patch to the (flagKey, environment) config. If
// patch.Rules is non-nil, existing rules are deleted and replaced in the
// same transaction (spec.md invariant 5: no reader observes a mix of old
// and new rules).
func (s *Store) UpdateFlagConfig(ctx context.Context, flagKey, environment string, patch FlagConfigPatch, actor string) (*FlagConfig, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update config tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var flagID uuid.UUID
	cfg := &FlagConfig{}
	err = tx.QueryRow(ctx, `
		SELECT f.id, c.id, c.flag_id, c.environment, c.enabled, c.default_variant, c.rollout_percent, c.updated_at
		FROM feature_flags f JOIN flag_configs c ON c.flag_id = f.id
		WHERE f.key = $1 AND c.environment = $2 AND f.active = TRUE
		FOR UPDATE OF c
	`, flagKey, environment).Scan(&flagID, &cfg.ID, &cfg.FlagID, &cfg.Environment, &cfg.Enabled, &cfg.DefaultVariant, &cfg.RolloutPercent, &cfg.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.DefaultVariant != nil {
		cfg.DefaultVariant = *patch.DefaultVariant
	}
	if patch.RolloutPercent != nil {
		cfg.RolloutPercent = *patch.RolloutPercent
	}

	_, err = tx.Exec(ctx, `
		UPDATE flag_configs SET enabled = $2, default_variant = $3, rollout_percent = $4
		WHERE id = $1
	`, cfg.ID, cfg.Enabled, cfg.DefaultVariant, cfg.RolloutPercent)
	if err != nil {
		return nil, fmt.Errorf("update flag_config: %w", err)
	}

	if patch.Rules != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM rollout_rules WHERE flag_config_id = $1`, cfg.ID); err != nil {
			return nil, fmt.Errorf("delete old rules: %w", err)
		}
		for _, r := range patch.Rules {
			_, err := tx.Exec(ctx, `
				INSERT INTO rollout_rules (flag_config_id, rule_type, priority, variant_key, percentage, attribute_name, operator, attribute_value)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, cfg.ID, r.Type, r.Priority, r.VariantKey, r.Percentage, r.AttributeName, r.Operator, r.AttributeValue)
			if err != nil {
				return nil, fmt.Errorf("insert rule: %w", err)
			}
		}
	}

	diff, _ := json.Marshal(patch)
	if err := writeAudit(ctx, tx, "flag_config", cfg.ID.String(), "update", actor, string(diff), "normal"); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update config tx: %w", err)
	}
	return cfg, nil
}

// ToggleFlag is shorthand for UpdateFlagConfig with only Enabled set.
func (s *Store) ToggleFlag(ctx context.Context, flagKey, environment string, enabled bool, actor string) (*FlagConfig, error) {
	return s.UpdateFlagConfig(ctx, flagKey, environment, FlagConfigPatch{Enabled: &enabled}, actor)
}

// DeleteFlag soft-deletes a flag: clears the active bit, retains the row
// for audit.
func (s *Store) DeleteFlag(ctx context.Context, flagKey, actor string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete flag tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `UPDATE feature_flags SET active = FALSE WHERE key = $1 AND active = TRUE RETURNING id`, flagKey).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	if err := writeAudit(ctx, tx, "flag", id.String(), "delete", actor, "{}", "normal"); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return tx.Commit(ctx)
}

// KillSwitch disables a flag across every known environment in one
// transaction and writes a single high-severity audit entry carrying the
// operator's reason. The caller is responsible for invalidating the
// Config Cache for every environment after this commits.
func (s *Store) KillSwitch(ctx context.Context, flagKey, reason, actor string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin kill switch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var flagID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM feature_flags WHERE key = $1 AND active = TRUE`, flagKey).Scan(&flagID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := tx.Query(ctx, `UPDATE flag_configs SET enabled = FALSE WHERE flag_id = $1 RETURNING environment`, flagID)
	if err != nil {
		return nil, fmt.Errorf("disable configs: %w", err)
	}
	var envs []string
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			rows.Close()
			return nil, err
		}
		envs = append(envs, env)
	}
	rows.Close()

	diff, _ := json.Marshal(map[string]any{"reason": reason, "environments": envs})
	if err := writeAudit(ctx, tx, "flag", flagID.String(), "kill_switch", actor, string(diff), "high"); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit kill switch tx: %w", err)
	}
	return envs, nil
}
