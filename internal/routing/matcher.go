package routing

import (
	"strings"

	"mail-router/internal/common/logging"
)

// Matcher combines a rule's condition list via its match mode into one
// boolean. Transport-rule sender exceptions are checked first and bypass the
// rule unconditionally.
type Matcher struct {
	evaluator *Evaluator
}

// NewMatcher creates a rule matcher backed by the given evaluator.
func NewMatcher(logger logging.Logger) *Matcher {
	return &Matcher{evaluator: NewEvaluator(logger)}
}

// Matches reports whether the rule applies to the message and returns the
// conditions that held, for audit logging.
//
// An empty condition list with MatchAll matches everything (blanket rules
// such as org-wide disclaimer injection); with MatchAny it matches nothing.
func (m *Matcher) Matches(msg *MessageContext, cr *CompiledRule) (bool, []Condition) {
	rule := cr.Rule

	if rule.Scope == ScopeTransport && len(cr.exceptions) > 0 {
		sender := strings.ToLower(strings.TrimSpace(msg.Sender))
		if _, excepted := cr.exceptions[sender]; excepted {
			return false, nil
		}
	}

	if len(cr.conditions) == 0 {
		return rule.MatchMode == MatchAll, nil
	}

	var matched []Condition
	switch rule.MatchMode {
	case MatchAny:
		for i := range cr.conditions {
			if m.evaluator.Evaluate(msg, &cr.conditions[i]) {
				matched = append(matched, cr.conditions[i].cond)
			}
		}
		return len(matched) > 0, matched

	default: // MatchAll
		for i := range cr.conditions {
			if !m.evaluator.Evaluate(msg, &cr.conditions[i]) {
				return false, nil
			}
			matched = append(matched, cr.conditions[i].cond)
		}
		return true, matched
	}
}
