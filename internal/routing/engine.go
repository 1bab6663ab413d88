package routing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mail-router/internal/common/logging"
)

// EngineConfig tunes one engine instance.
type EngineConfig struct {
	// Budget bounds one message's evaluation. Exceeding it fails open to
	// deliver rather than blocking mail flow.
	Budget time.Duration
	// Merge controls domain-rule vs transport-rule interleaving.
	Merge MergePolicy
}

// DefaultEngineConfig returns the production defaults: a few hundred
// milliseconds of budget inside the mail-flow SLA, domain rules first.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Budget: 250 * time.Millisecond,
		Merge:  MergeDomainFirst,
	}
}

// Engine orchestrates one message's pass through the rule set: load the
// snapshot, iterate rules in priority order, apply matched actions, honor
// stop-processing and the implicit halt of reject/quarantine, and emit
// statistics once the decision is final.
//
// The engine holds no cross-message mutable state; evaluations are
// independent and safe to run concurrently against a shared provider.
type Engine struct {
	provider RuleSetProvider
	matcher  *Matcher
	sink     StatsSink
	logger   logging.Logger
	config   EngineConfig
}

// NewEngine creates a routing engine. sink may be nil to discard statistics.
func NewEngine(provider RuleSetProvider, sink StatsSink, logger logging.Logger, config EngineConfig) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	if config.Budget <= 0 {
		config.Budget = DefaultEngineConfig().Budget
	}
	if config.Merge == "" {
		config.Merge = MergeDomainFirst
	}
	return &Engine{
		provider: provider,
		matcher:  NewMatcher(logger),
		sink:     sink,
		logger:   logger,
		config:   config,
	}
}

// matchRecord pairs a matched rule with the conditions that held, for the
// statistics pass after the decision is final.
type matchRecord struct {
	rule    *Rule
	matched []Condition
}

// Evaluate runs one message through the applicable rule set and returns the
// routing decision. It never returns an error: every internal failure
// degrades to a deliver decision with Degraded set, because blocking
// legitimate mail on an engine fault is worse than an occasional missed
// policy. Reject and quarantine outcomes are intended results, not errors.
//
// Given identical (message, rule set) inputs the decision is identical;
// date conditions use the message's own timestamp, never the wall clock.
func (e *Engine) Evaluate(ctx context.Context, msg *MessageContext) *RoutingDecision {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.Budget)
	defer cancel()

	state := newDecisionState(msg)

	// Loading.
	ruleSet, err := e.provider.Load(ctx, msg.OrganizationID, msg.DomainID, msg.Direction)
	if err != nil {
		// Fail open: deliver, flag for manual review.
		state.decision.Degraded = true
		state.decision.Error = err.Error()
		if errors.Is(err, ErrRuleSetUnavailable) {
			e.logger.Warn("rule set unavailable, failing open to deliver",
				logging.Field{Key: "message_id", Value: msg.MessageID},
				logging.Field{Key: "organization_id", Value: msg.OrganizationID},
				logging.Field{Key: "domain_id", Value: msg.DomainID},
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			e.logger.Error("rule set load failed, failing open to deliver", err,
				logging.Field{Key: "message_id", Value: msg.MessageID})
		}
		e.recordDecision(msg, state.decision, nil, time.Since(start))
		return state.decision
	}

	// Evaluating.
	var matches []matchRecord
	for _, cr := range ruleSet.Merged(e.config.Merge) {
		if ctx.Err() != nil {
			// Budget exceeded mid-run: fail open with whatever has been
			// decided so far discarded in favor of plain delivery.
			e.logger.Warn("evaluation budget exceeded, failing open to deliver",
				logging.Field{Key: "message_id", Value: msg.MessageID},
				logging.Field{Key: "evaluated", Value: state.decision.EvaluatedRules})
			fallback := newDecisionState(msg).decision
			fallback.Degraded = true
			fallback.Error = "evaluation budget exceeded"
			fallback.EvaluatedRules = state.decision.EvaluatedRules
			e.recordDecision(msg, fallback, nil, time.Since(start))
			return fallback
		}

		state.decision.EvaluatedRules++

		ok, matchedConds := e.matcher.Matches(msg, cr)
		if !ok {
			continue
		}

		matches = append(matches, matchRecord{rule: cr.Rule, matched: matchedConds})
		state.apply(cr.Rule)

		e.logger.Debug("routing rule matched",
			logging.Field{Key: "rule_id", Value: cr.Rule.ID},
			logging.Field{Key: "rule", Value: cr.Rule.Name},
			logging.Field{Key: "action", Value: string(cr.Rule.Action)},
			logging.Field{Key: "message_id", Value: msg.MessageID})

		if state.halted {
			break
		}
	}

	// Finalizing: the default disposition - deliver - was seeded when the
	// state was created; mutations were collected in evaluation order and
	// ship with the decision for atomic application by the caller.
	e.recordDecision(msg, state.decision, matches, time.Since(start))
	return state.decision
}

// recordDecision drives the statistics sink: one RecordMatch per matched
// rule, one log entry per matched rule with logging enabled, and one
// summary entry for the decision. Sink failures are logged and swallowed;
// the decision has already been computed.
func (e *Engine) recordDecision(msg *MessageContext, d *RoutingDecision, matches []matchRecord, elapsed time.Duration) {
	// Detached context: the evaluation budget must not cancel audit writes
	// for a decision that is already final.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()

	for _, m := range matches {
		if err := e.sink.RecordMatch(ctx, m.rule, msg); err != nil {
			e.logger.Warn("failed to record rule match statistics",
				logging.Field{Key: "rule_id", Value: m.rule.ID},
				logging.Field{Key: "error", Value: err.Error()})
		}
		if !m.rule.EnableLogging {
			continue
		}
		entry := ruleLogEntry(uuid.NewString(), msg, m.rule, m.matched, d, elapsed, now)
		if err := e.sink.AppendEntry(ctx, entry); err != nil {
			e.logger.Warn("failed to append routing log entry",
				logging.Field{Key: "rule_id", Value: m.rule.ID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	summary := decisionLogEntry(uuid.NewString(), msg, d, elapsed, now)
	if err := e.sink.AppendEntry(ctx, summary); err != nil {
		e.logger.Warn("failed to append routing decision summary",
			logging.Field{Key: "message_id", Value: msg.MessageID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}
