package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"mail-router/internal/routing"
)

// StatsStore implements routing.StatsSink. Match counters are bumped with a
// store-side increment so concurrent evaluators never lose updates; the
// routing log is append-only.
type StatsStore struct {
	store *Store
}

func NewStatsStore(store *Store) *StatsStore {
	return &StatsStore{store: store}
}

func (s *StatsStore) RecordMatch(ctx context.Context, rule *routing.Rule, msg *routing.MessageContext) error {
	table := "domain_routing_rules"
	if rule.Scope == routing.ScopeTransport {
		table = "transport_rules"
	}

	query := fmt.Sprintf(
		`UPDATE %s SET match_count = match_count + 1, last_matched_at = now() WHERE id = $1`,
		table,
	)

	if _, err := s.store.pool.Exec(ctx, query, rule.ID); err != nil {
		return fmt.Errorf("record match for rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *StatsStore) AppendEntry(ctx context.Context, entry *routing.RoutingLogEntry) error {
	var matched []byte
	if len(entry.MatchedConditions) > 0 {
		var err error
		if matched, err = json.Marshal(entry.MatchedConditions); err != nil {
			return fmt.Errorf("encode matched conditions: %w", err)
		}
	}

	// Summary entries carry no rule; NULL keeps the UUID column honest.
	var ruleID *string
	if entry.RuleID != "" {
		ruleID = &entry.RuleID
	}

	query := `
		INSERT INTO routing_logs (
			id, message_id, rule_id, rule_name, action, direction,
			sender, recipients, matched_conditions, disposition,
			duration_us, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.store.pool.Exec(ctx, query,
		entry.ID, entry.MessageID, ruleID, entry.RuleName, entry.Action,
		entry.Direction, entry.Sender, entry.Recipients, matched,
		entry.Disposition, entry.Duration.Microseconds(), entry.Error,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append routing log entry: %w", err)
	}
	return nil
}
