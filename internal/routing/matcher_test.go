package routing

import (
	"testing"

	"mail-router/internal/common/logging"
)

func compileTestRule(rule *Rule) *CompiledRule {
	return CompileRule(rule, logging.NewNop())
}

func TestMatcherEmptyConditionAsymmetry(t *testing.T) {
	m := NewMatcher(logging.NewNop())
	msg := testMessage()

	all := compileTestRule(&Rule{ID: "blanket", MatchMode: MatchAll})
	if ok, _ := m.Matches(msg, all); !ok {
		t.Error("empty conditions with ALL must match every message")
	}

	any := compileTestRule(&Rule{ID: "never", MatchMode: MatchAny})
	if ok, _ := m.Matches(msg, any); ok {
		t.Error("empty conditions with ANY must match nothing")
	}
}

func TestMatcherMatchModes(t *testing.T) {
	m := NewMatcher(logging.NewNop())
	msg := testMessage()

	hit := Condition{Field: FieldSubject, Operator: OpContains, Value: "free"}
	miss := Condition{Field: FieldSubject, Operator: OpContains, Value: "winner"}

	tests := []struct {
		name        string
		mode        MatchMode
		conds       []Condition
		want        bool
		wantMatched int
	}{
		{"ALL all hold", MatchAll, []Condition{hit, hit}, true, 2},
		{"ALL one fails", MatchAll, []Condition{hit, miss}, false, 0},
		{"ANY one holds", MatchAny, []Condition{miss, hit}, true, 1},
		{"ANY none hold", MatchAny, []Condition{miss, miss}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := compileTestRule(&Rule{ID: "r", MatchMode: tt.mode, Conditions: tt.conds})
			ok, matched := m.Matches(msg, rule)
			if ok != tt.want {
				t.Errorf("Matches() = %v, want %v", ok, tt.want)
			}
			if ok && len(matched) != tt.wantMatched {
				t.Errorf("matched %d conditions, want %d", len(matched), tt.wantMatched)
			}
		})
	}
}

func TestMatcherTransportExceptions(t *testing.T) {
	m := NewMatcher(logging.NewNop())
	msg := testMessage() // sender alice@example.com

	rule := compileTestRule(&Rule{
		ID:         "exc",
		Scope:      ScopeTransport,
		MatchMode:  MatchAll,
		Exceptions: []string{"Alice@Example.com", "root@corp.test"},
	})

	// Sender in the exception list bypasses the rule even though the empty
	// ALL condition list would otherwise match everything.
	if ok, _ := m.Matches(msg, rule); ok {
		t.Error("excepted sender must bypass the rule unconditionally")
	}

	other := testMessage()
	other.Sender = "mallory@example.com"
	if ok, _ := m.Matches(other, rule); !ok {
		t.Error("non-excepted sender should match the blanket rule")
	}
}

func TestMatcherDomainRuleIgnoresExceptions(t *testing.T) {
	// Exceptions are a transport-rule concept; a domain rule carrying them
	// (rejected at save time anyway) must not honor the bypass.
	m := NewMatcher(logging.NewNop())
	msg := testMessage()

	rule := compileTestRule(&Rule{
		ID:         "dom",
		Scope:      ScopeDomain,
		MatchMode:  MatchAll,
		Exceptions: []string{"alice@example.com"},
	})

	if ok, _ := m.Matches(msg, rule); !ok {
		t.Error("domain rules do not honor sender exceptions")
	}
}
