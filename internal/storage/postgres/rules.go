package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mail-router/internal/routing"
)

// RuleRepository loads active rule definitions for the caching provider. It
// satisfies routing.RuleRepository and honors its ordering contract: priority
// ascending with a created-at tiebreak.
type RuleRepository struct {
	store *Store
}

func NewRuleRepository(store *Store) *RuleRepository {
	return &RuleRepository{store: store}
}

func (r *RuleRepository) DomainRules(ctx context.Context, domainID string) ([]*routing.Rule, error) {
	query := `
		SELECT
			id, domain_id, name, priority, is_active,
			apply_to_inbound, apply_to_outbound,
			conditions, match_mode, action, action_details,
			stop_processing, enable_logging,
			match_count, last_matched_at, created_at, updated_at
		FROM domain_routing_rules
		WHERE domain_id = $1 AND is_active = true
		ORDER BY priority ASC, created_at ASC
	`

	rows, err := r.store.pool.Query(ctx, query, domainID)
	if err != nil {
		return nil, fmt.Errorf("query domain routing rules: %w", err)
	}
	defer rows.Close()

	var rules []*routing.Rule
	for rows.Next() {
		rule, err := scanDomainRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain routing rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *RuleRepository) TransportRules(ctx context.Context, organizationID string) ([]*routing.Rule, error) {
	query := `
		SELECT
			id, organization_id, name, apply_to_domain_ids, priority, is_active,
			apply_to_inbound, apply_to_outbound,
			conditions, match_mode, action, action_details,
			stop_processing, enable_logging, exceptions,
			match_count, last_matched_at, created_at, updated_at
		FROM transport_rules
		WHERE organization_id = $1 AND is_active = true
		ORDER BY priority ASC, created_at ASC
	`

	rows, err := r.store.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("query transport rules: %w", err)
	}
	defer rows.Close()

	var rules []*routing.Rule
	for rows.Next() {
		rule, err := scanTransportRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transport rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func scanDomainRule(row pgx.Row) (*routing.Rule, error) {
	rule := &routing.Rule{Scope: routing.ScopeDomain}
	var conditions, actionDetails []byte

	err := row.Scan(
		&rule.ID, &rule.DomainID, &rule.Name, &rule.Priority, &rule.IsActive,
		&rule.ApplyToInbound, &rule.ApplyToOutbound,
		&conditions, &rule.MatchMode, &rule.Action, &actionDetails,
		&rule.StopProcessing, &rule.EnableLogging,
		&rule.MatchCount, &rule.LastMatchedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return rule, decodeRulePayloads(rule, conditions, actionDetails)
}

func scanTransportRule(row pgx.Row) (*routing.Rule, error) {
	rule := &routing.Rule{Scope: routing.ScopeTransport}
	var conditions, actionDetails []byte

	err := row.Scan(
		&rule.ID, &rule.OrganizationID, &rule.Name, &rule.ApplyToDomainIDs,
		&rule.Priority, &rule.IsActive,
		&rule.ApplyToInbound, &rule.ApplyToOutbound,
		&conditions, &rule.MatchMode, &rule.Action, &actionDetails,
		&rule.StopProcessing, &rule.EnableLogging, &rule.Exceptions,
		&rule.MatchCount, &rule.LastMatchedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return rule, decodeRulePayloads(rule, conditions, actionDetails)
}

func decodeRulePayloads(rule *routing.Rule, conditions, actionDetails []byte) error {
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return fmt.Errorf("decode conditions for rule %s: %w", rule.ID, err)
		}
	}
	if len(actionDetails) > 0 {
		if err := json.Unmarshal(actionDetails, &rule.ActionDetails); err != nil {
			return fmt.Errorf("decode action details for rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
