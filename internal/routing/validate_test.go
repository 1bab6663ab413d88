package routing

import (
	"errors"
	"testing"
)

func validRule() *Rule {
	return &Rule{
		ID:             "r-1",
		Name:           "block executables",
		Scope:          ScopeDomain,
		DomainID:       "dom-1",
		Priority:       10,
		IsActive:       true,
		ApplyToInbound: true,
		MatchMode:      MatchAny,
		Conditions: []Condition{{
			Field:    FieldAttachment,
			Operator: OpMatches,
			Value:    `\.(exe|scr)$`,
			IsRegex:  true,
		}},
		Action:        ActionReject,
		ActionDetails: ActionDetails{RejectMessage: "executable attachments are not accepted"},
	}
}

func TestValidatorAcceptsValidRule(t *testing.T) {
	if err := NewValidator().ValidateRule(validRule()); err != nil {
		t.Errorf("ValidateRule() = %v, want nil", err)
	}
}

func TestValidatorRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr error
	}{
		{
			name:    "missing name",
			mutate:  func(r *Rule) { r.Name = "" },
			wantErr: ErrInvalidRule,
		},
		{
			name:    "domain rule without domain",
			mutate:  func(r *Rule) { r.DomainID = "" },
			wantErr: ErrInvalidRule,
		},
		{
			name: "transport rule without organization",
			mutate: func(r *Rule) {
				r.Scope = ScopeTransport
				r.OrganizationID = ""
			},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "exceptions on domain rule",
			mutate:  func(r *Rule) { r.Exceptions = []string{"ceo@corp.test"} },
			wantErr: ErrInvalidRule,
		},
		{
			name: "no direction",
			mutate: func(r *Rule) {
				r.ApplyToInbound = false
				r.ApplyToOutbound = false
			},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "malformed regex",
			mutate:  func(r *Rule) { r.Conditions[0].Value = "[unclosed" },
			wantErr: ErrInvalidCondition,
		},
		{
			name: "header condition without header name",
			mutate: func(r *Rule) {
				r.Conditions = []Condition{{Field: FieldHeader, Operator: OpEquals, Value: "x"}}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "headerName on non-header field",
			mutate: func(r *Rule) {
				r.Conditions = []Condition{{Field: FieldSubject, HeaderName: "X", Operator: OpEquals, Value: "x"}}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "ordering operator on subject",
			mutate: func(r *Rule) {
				r.Conditions = []Condition{{Field: FieldSubject, Operator: OpGreaterThan, Value: "A"}}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "isRegex with non-matches operator",
			mutate: func(r *Rule) {
				r.Conditions = []Condition{{Field: FieldSubject, Operator: OpContains, Value: "x", IsRegex: true}}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "exists operator rejected at save time",
			mutate: func(r *Rule) {
				r.Conditions = []Condition{{Field: FieldHeader, HeaderName: "X", Operator: "exists", Value: "-"}}
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "forward without addresses",
			mutate: func(r *Rule) {
				r.Action = ActionForward
				r.ActionDetails = ActionDetails{}
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "notify without webhook URL",
			mutate: func(r *Rule) {
				r.Action = ActionNotify
				r.ActionDetails = ActionDetails{}
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "delay without seconds",
			mutate: func(r *Rule) {
				r.Action = ActionDelay
				r.ActionDetails = ActionDetails{}
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "disclaimer without footer",
			mutate: func(r *Rule) {
				r.Action = ActionAddDisclaimer
				r.ActionDetails = ActionDetails{}
			},
			wantErr: ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			err := NewValidator().ValidateRule(rule)
			if err == nil {
				t.Fatal("ValidateRule() = nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRule() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
