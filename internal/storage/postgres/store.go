// Package postgres persists routing rules and audit logs. It is the
// authoritative rule store behind the caching rule-set provider; the hot
// evaluation path only reaches it on cache misses.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mail-router/internal/common/logging"
)

type Store struct {
	pool   *pgxpool.Pool
	config *Config
	logger logging.Logger
}

func NewStore(ctx context.Context, config *Config, logger logging.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		pool:   pool,
		config: config,
		logger: logger,
	}

	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying connection pool for listeners that need a
// dedicated connection (rule-change LISTEN).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS domain_routing_rules (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			domain_id UUID NOT NULL,
			name VARCHAR(255) NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			is_active BOOLEAN NOT NULL DEFAULT true,
			apply_to_inbound BOOLEAN NOT NULL DEFAULT true,
			apply_to_outbound BOOLEAN NOT NULL DEFAULT false,
			conditions JSONB NOT NULL DEFAULT '[]',
			match_mode VARCHAR(10) NOT NULL DEFAULT 'ALL',
			action VARCHAR(50) NOT NULL,
			action_details JSONB NOT NULL DEFAULT '{}',
			stop_processing BOOLEAN NOT NULL DEFAULT false,
			enable_logging BOOLEAN NOT NULL DEFAULT false,
			match_count BIGINT NOT NULL DEFAULT 0,
			last_matched_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transport_rules (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL,
			name VARCHAR(255) NOT NULL,
			apply_to_domain_ids TEXT[] NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 100,
			is_active BOOLEAN NOT NULL DEFAULT true,
			apply_to_inbound BOOLEAN NOT NULL DEFAULT true,
			apply_to_outbound BOOLEAN NOT NULL DEFAULT true,
			conditions JSONB NOT NULL DEFAULT '[]',
			match_mode VARCHAR(10) NOT NULL DEFAULT 'ALL',
			action VARCHAR(50) NOT NULL,
			action_details JSONB NOT NULL DEFAULT '{}',
			stop_processing BOOLEAN NOT NULL DEFAULT false,
			enable_logging BOOLEAN NOT NULL DEFAULT false,
			exceptions TEXT[] NOT NULL DEFAULT '{}',
			match_count BIGINT NOT NULL DEFAULT 0,
			last_matched_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS routing_logs (
			id UUID PRIMARY KEY,
			message_id VARCHAR(998) NOT NULL,
			rule_id UUID,
			rule_name VARCHAR(255),
			action VARCHAR(50),
			direction VARCHAR(10) NOT NULL,
			sender VARCHAR(320) NOT NULL,
			recipients TEXT[] NOT NULL DEFAULT '{}',
			matched_conditions JSONB,
			disposition VARCHAR(20) NOT NULL,
			duration_us BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_domain_routing_rules_domain
			ON domain_routing_rules(domain_id) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_transport_rules_org
			ON transport_rules(organization_id) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_routing_logs_message_id ON routing_logs(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_logs_created_at ON routing_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_logs_rule_id ON routing_logs(rule_id)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}
