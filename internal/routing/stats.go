package routing

import (
	"context"
	"time"
)

// StatsSink records per-rule match statistics and routing-log entries.
// Implementations must be best-effort: a sink failure never changes a
// decision that has already been computed. The engine logs sink errors to
// the operational channel and moves on.
type StatsSink interface {
	// RecordMatch bumps the rule's match counter and last-matched
	// timestamp. Implementations should use an atomic store-side increment
	// so concurrent evaluators never lose updates.
	RecordMatch(ctx context.Context, rule *Rule, msg *MessageContext) error
	// AppendEntry persists one append-only routing-log entry.
	AppendEntry(ctx context.Context, entry *RoutingLogEntry) error
}

// NopSink discards all statistics. Used in tests and when no log store is
// configured.
type NopSink struct{}

func (NopSink) RecordMatch(context.Context, *Rule, *MessageContext) error { return nil }
func (NopSink) AppendEntry(context.Context, *RoutingLogEntry) error       { return nil }

// ruleLogEntry builds the audit record for one matched rule.
func ruleLogEntry(id string, msg *MessageContext, rule *Rule, matched []Condition, d *RoutingDecision, elapsed time.Duration, now time.Time) *RoutingLogEntry {
	return &RoutingLogEntry{
		ID:                id,
		MessageID:         msg.MessageID,
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		Action:            rule.Action,
		Direction:         msg.Direction,
		Sender:            msg.Sender,
		Recipients:        msg.Recipients,
		MatchedConditions: matched,
		Disposition:       d.Disposition,
		Duration:          elapsed,
		CreatedAt:         now,
	}
}

// decisionLogEntry builds the once-per-decision summary record. RuleID is
// left empty to distinguish it from per-rule entries.
func decisionLogEntry(id string, msg *MessageContext, d *RoutingDecision, elapsed time.Duration, now time.Time) *RoutingLogEntry {
	return &RoutingLogEntry{
		ID:          id,
		MessageID:   msg.MessageID,
		Direction:   msg.Direction,
		Sender:      msg.Sender,
		Recipients:  msg.Recipients,
		Disposition: d.Disposition,
		Duration:    elapsed,
		Error:       d.Error,
		CreatedAt:   now,
	}
}
