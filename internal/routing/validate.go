package routing

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Validator performs write-time rule validation for the admin plane. The
// hot evaluation path assumes rules are well-formed and never re-validates,
// so everything that could make evaluation misbehave is rejected here:
// malformed regexes, header conditions without a header name, action
// details that do not match the action, and condition fields or operators
// outside the routing set (exists/not_exists belong to folder rules and are
// rejected, not silently evaluated).
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a rule validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateRule checks a rule before persistence. Returns nil when the rule
// is safe to evaluate.
func (v *Validator) ValidateRule(rule *Rule) error {
	if err := v.validate.Struct(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	switch rule.Scope {
	case ScopeDomain:
		if rule.DomainID == "" {
			return fmt.Errorf("%w: domain rule requires domainId", ErrInvalidRule)
		}
		if len(rule.Exceptions) > 0 {
			return fmt.Errorf("%w: sender exceptions are transport-rule only", ErrInvalidRule)
		}
	case ScopeTransport:
		if rule.OrganizationID == "" {
			return fmt.Errorf("%w: transport rule requires organizationId", ErrInvalidRule)
		}
	}

	if !rule.ApplyToInbound && !rule.ApplyToOutbound {
		return fmt.Errorf("%w: rule applies to neither direction", ErrInvalidRule)
	}

	for i := range rule.Conditions {
		if err := v.validateCondition(&rule.Conditions[i]); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	return v.validateActionDetails(rule)
}

func (v *Validator) validateCondition(cond *Condition) error {
	if cond.Field == FieldHeader && cond.HeaderName == "" {
		return fmt.Errorf("%w: header condition requires headerName", ErrInvalidCondition)
	}
	if cond.Field != FieldHeader && cond.HeaderName != "" {
		return fmt.Errorf("%w: headerName is only valid with the header field", ErrInvalidCondition)
	}

	if cond.IsRegex {
		if cond.Operator != OpMatches {
			return fmt.Errorf("%w: isRegex requires the matches operator", ErrInvalidCondition)
		}
		if _, err := regexp.Compile(cond.Value); err != nil {
			return fmt.Errorf("%w: invalid regex %q: %v", ErrInvalidCondition, cond.Value, err)
		}
	}

	switch cond.Operator {
	case OpGreaterThan, OpLessThan:
		if cond.Field != FieldSize && cond.Field != FieldDate {
			return fmt.Errorf("%w: %s only applies to size and date fields", ErrInvalidCondition, cond.Operator)
		}
	}

	return nil
}

// validateActionDetails rejects rules whose action parameters are missing.
// A forward rule without forward addresses would match but do nothing.
func (v *Validator) validateActionDetails(rule *Rule) error {
	d := rule.ActionDetails
	switch rule.Action {
	case ActionDeliverFolder:
		if d.Folder == "" {
			return fmt.Errorf("%w: deliver_to_folder requires folder", ErrInvalidRule)
		}
	case ActionForward:
		if len(d.ForwardAddresses) == 0 {
			return fmt.Errorf("%w: forward requires forwardAddresses", ErrInvalidRule)
		}
	case ActionAddBCC:
		if len(d.BCCAddresses) == 0 {
			return fmt.Errorf("%w: add_bcc requires bccAddresses", ErrInvalidRule)
		}
	case ActionRedirect:
		if d.RedirectAddress == "" {
			return fmt.Errorf("%w: redirect requires redirectAddress", ErrInvalidRule)
		}
	case ActionDelay:
		if d.DelaySeconds <= 0 {
			return fmt.Errorf("%w: delay requires positive delaySeconds", ErrInvalidRule)
		}
	case ActionAddHeader:
		if len(d.Headers) == 0 {
			return fmt.Errorf("%w: add_header requires headers", ErrInvalidRule)
		}
	case ActionRemoveHeader:
		if len(d.HeaderNames) == 0 {
			return fmt.Errorf("%w: remove_header requires headerNames", ErrInvalidRule)
		}
	case ActionModifySubject:
		if d.SubjectPrefix == "" && d.SubjectSuffix == "" {
			return fmt.Errorf("%w: modify_subject requires a prefix or suffix", ErrInvalidRule)
		}
	case ActionAddLabel:
		if d.LabelID == "" {
			return fmt.Errorf("%w: add_label requires labelId", ErrInvalidRule)
		}
	case ActionAddDisclaimer:
		if d.FooterText == "" && d.FooterHTML == "" {
			return fmt.Errorf("%w: add_disclaimer requires footer text or HTML", ErrInvalidRule)
		}
	case ActionNotify:
		if d.WebhookURL == "" {
			return fmt.Errorf("%w: notify requires webhookUrl", ErrInvalidRule)
		}
	}
	return nil
}
