// Package routing implements the mail routing / transport policy engine.
// It evaluates ordered, condition-driven rule sets against message envelopes
// and produces routing decisions (deliver, forward, quarantine, reject,
// header rewrites, disclaimers, webhook notifications, ...).
//
// The engine is side-effect-free: mutations and webhook calls are collected
// into the decision and executed by the caller after evaluation completes.
package routing

import (
	"strings"
	"time"
)

// Direction indicates which way a message is flowing.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ConditionField identifies the part of the message a condition tests.
type ConditionField string

const (
	FieldFrom       ConditionField = "from"
	FieldTo         ConditionField = "to"
	FieldCC         ConditionField = "cc"
	FieldSubject    ConditionField = "subject"
	FieldBody       ConditionField = "body"
	FieldHeader     ConditionField = "header"
	FieldAttachment ConditionField = "attachment"
	FieldSize       ConditionField = "size"
	FieldDate       ConditionField = "date"
)

// ConditionOperator is the comparison applied by a condition.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpContains    ConditionOperator = "contains"
	OpMatches     ConditionOperator = "matches"
	OpStartsWith  ConditionOperator = "startsWith"
	OpEndsWith    ConditionOperator = "endsWith"
	OpGreaterThan ConditionOperator = "greaterThan"
	OpLessThan    ConditionOperator = "lessThan"
)

// MatchMode controls how a rule combines its conditions.
type MatchMode string

const (
	// MatchAll requires every condition to hold (AND). A rule with no
	// conditions and MatchAll matches every message.
	MatchAll MatchMode = "ALL"
	// MatchAny requires at least one condition to hold (OR). A rule with no
	// conditions and MatchAny matches nothing.
	MatchAny MatchMode = "ANY"
)

// RuleAction is the effect a matched rule requests.
type RuleAction string

const (
	ActionContinue      RuleAction = "continue"
	ActionDeliver       RuleAction = "deliver"
	ActionDeliverFolder RuleAction = "deliver_to_folder"
	ActionForward       RuleAction = "forward"
	ActionAddBCC        RuleAction = "add_bcc"
	ActionRedirect      RuleAction = "redirect"
	ActionReject        RuleAction = "reject"
	ActionQuarantine    RuleAction = "quarantine"
	ActionDelay         RuleAction = "delay"
	ActionAddHeader     RuleAction = "add_header"
	ActionRemoveHeader  RuleAction = "remove_header"
	ActionModifySubject RuleAction = "modify_subject"
	ActionAddLabel      RuleAction = "add_label"
	ActionAddDisclaimer RuleAction = "add_disclaimer"
	ActionNotify        RuleAction = "notify"
)

// RuleScope distinguishes domain-level rules from organization-wide
// transport rules.
type RuleScope string

const (
	ScopeDomain    RuleScope = "domain"
	ScopeTransport RuleScope = "transport"
)

// Condition is a single predicate test against one field of a message.
// Immutable once created; regex values are validated at rule-save time so
// evaluation can assume they compile.
type Condition struct {
	Field ConditionField `json:"field" validate:"required,oneof=from to cc subject body header attachment size date"`
	// HeaderName must be set iff Field == header.
	HeaderName      string            `json:"headerName,omitempty"`
	Operator        ConditionOperator `json:"operator" validate:"required,oneof=equals contains matches startsWith endsWith greaterThan lessThan"`
	Value           string            `json:"value" validate:"required"`
	IsRegex         bool              `json:"isRegex,omitempty"`
	CaseInsensitive bool              `json:"caseInsensitive,omitempty"`
}

// ActionDetails carries action-specific parameters. Only the fields relevant
// to the rule's action are populated.
type ActionDetails struct {
	ForwardAddresses []string          `json:"forwardAddresses,omitempty"`
	BCCAddresses     []string          `json:"bccAddresses,omitempty"`
	RedirectAddress  string            `json:"redirectAddress,omitempty"`
	Folder           string            `json:"folder,omitempty"`
	RejectMessage    string            `json:"rejectMessage,omitempty"`
	QuarantineReason string            `json:"quarantineReason,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	HeaderNames      []string          `json:"headerNames,omitempty"`
	SubjectPrefix    string            `json:"subjectPrefix,omitempty"`
	SubjectSuffix    string            `json:"subjectSuffix,omitempty"`
	LabelID          string            `json:"labelId,omitempty"`
	FooterText       string            `json:"footerText,omitempty"`
	FooterHTML       string            `json:"footerHtml,omitempty"`
	WebhookURL       string            `json:"webhookUrl,omitempty"`
	WebhookPayload   string            `json:"webhookPayload,omitempty"`
	DelaySeconds     int               `json:"delaySeconds,omitempty"`
}

// Rule is a named, prioritized condition→action policy applied to mail flow.
// Domain rules are scoped to a single domain; transport rules are scoped to an
// organization with an optional domain allow-list and sender-level exceptions.
//
// Rules are read-only during evaluation. Match statistics (MatchCount,
// LastMatchedAt) are maintained by the statistics sink through atomic
// database increments, never by the engine in memory.
type Rule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name" validate:"required"`
	Scope          RuleScope `json:"scope" validate:"required,oneof=domain transport"`
	DomainID       string    `json:"domainId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	// ApplyToDomainIDs restricts a transport rule to specific domains.
	// Empty means all domains in the organization.
	ApplyToDomainIDs []string `json:"applyToDomainIds,omitempty"`
	// Priority ascending: lower values are evaluated first. Ties are broken
	// by creation time to keep evaluation order deterministic.
	Priority        int           `json:"priority" validate:"gte=0"`
	IsActive        bool          `json:"isActive"`
	ApplyToInbound  bool          `json:"applyToInbound"`
	ApplyToOutbound bool          `json:"applyToOutbound"`
	Conditions      []Condition   `json:"conditions" validate:"dive"`
	MatchMode       MatchMode     `json:"matchMode" validate:"required,oneof=ALL ANY"`
	Action          RuleAction    `json:"action" validate:"required,oneof=continue deliver deliver_to_folder forward add_bcc redirect reject quarantine delay add_header remove_header modify_subject add_label add_disclaimer notify"`
	ActionDetails   ActionDetails `json:"actionDetails"`
	StopProcessing  bool          `json:"stopProcessing"`
	EnableLogging   bool          `json:"enableLogging"`
	// Exceptions lists sender addresses that bypass the rule unconditionally.
	// Transport rules only.
	Exceptions    []string   `json:"exceptions,omitempty"`
	MatchCount    int64      `json:"matchCount"`
	LastMatchedAt *time.Time `json:"lastMatchedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// AppliesTo reports whether the rule covers the given direction.
func (r *Rule) AppliesTo(dir Direction) bool {
	switch dir {
	case DirectionInbound:
		return r.ApplyToInbound
	case DirectionOutbound:
		return r.ApplyToOutbound
	default:
		return false
	}
}

// Attachment is the metadata the engine sees for one message attachment.
// Body content is out of scope; conditions test filename and MIME type only.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// MessageContext is the engine's input: an already-parsed message envelope.
// It is immutable for the duration of one evaluation pass; collected
// mutations are applied by the caller after the decision is returned.
type MessageContext struct {
	MessageID      string       `json:"messageId"`
	OrganizationID string       `json:"organizationId"`
	DomainID       string       `json:"domainId"`
	Direction      Direction    `json:"direction"`
	Sender         string       `json:"sender"`
	Recipients     []string     `json:"recipients"`
	CC             []string     `json:"cc,omitempty"`
	Subject        string       `json:"subject"`
	BodyExcerpt    string       `json:"bodyExcerpt,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Size           int64        `json:"size"`
	// Date is the message's own timestamp. Date conditions compare against
	// this value, never against the wall clock.
	Date time.Time `json:"date"`
}

// Header returns the named header, matched case-insensitively. The second
// return reports presence.
func (m *MessageContext) Header(name string) (string, bool) {
	if v, ok := m.Headers[name]; ok {
		return v, true
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Disposition is the final fate of a message after rule evaluation.
type Disposition string

const (
	DispositionDeliver    Disposition = "deliver"
	DispositionReject     Disposition = "reject"
	DispositionQuarantine Disposition = "quarantine"
	DispositionDelay      Disposition = "delay"
)

// MutationKind classifies an envelope mutation queued by a matched rule.
type MutationKind string

const (
	MutationAddHeader     MutationKind = "add_header"
	MutationRemoveHeader  MutationKind = "remove_header"
	MutationModifySubject MutationKind = "modify_subject"
	MutationAddLabel      MutationKind = "add_label"
	MutationAddDisclaimer MutationKind = "add_disclaimer"
)

// Mutation is one envelope change to apply before delivery. Mutations are
// ordered by rule evaluation order and applied atomically after the full
// decision is computed.
type Mutation struct {
	Kind          MutationKind `json:"kind"`
	RuleID        string       `json:"ruleId"`
	HeaderName    string       `json:"headerName,omitempty"`
	HeaderValue   string       `json:"headerValue,omitempty"`
	SubjectPrefix string       `json:"subjectPrefix,omitempty"`
	SubjectSuffix string       `json:"subjectSuffix,omitempty"`
	LabelID       string       `json:"labelId,omitempty"`
	FooterText    string       `json:"footerText,omitempty"`
	FooterHTML    string       `json:"footerHtml,omitempty"`
}

// WebhookRequest is a queued notify side effect. The engine never performs
// the HTTP call itself; the caller hands these to the notifier after the
// decision is returned, fire-and-forget.
type WebhookRequest struct {
	RuleID          string `json:"ruleId"`
	URL             string `json:"url"`
	PayloadTemplate string `json:"payloadTemplate,omitempty"`
}

// AppliedAction records one matched rule's contribution to the decision.
type AppliedAction struct {
	RuleID     string     `json:"ruleId"`
	RuleName   string     `json:"ruleName"`
	Action     RuleAction `json:"action"`
	Mutated    bool       `json:"mutated"`
	SideEffect bool       `json:"sideEffect"`
}

// RoutingDecision is the aggregated result of evaluating a rule set against
// one message. Exactly one terminal disposition wins; "continue" and the
// pure-mutation actions never set it. The decision carries no timestamps so
// that identical (context, rule set) pairs always produce identical values.
type RoutingDecision struct {
	MessageID        string          `json:"messageId"`
	Direction        Direction       `json:"direction"`
	Disposition      Disposition     `json:"disposition"`
	Folder           string          `json:"folder,omitempty"`
	RejectMessage    string          `json:"rejectMessage,omitempty"`
	QuarantineReason string          `json:"quarantineReason,omitempty"`
	DelaySeconds     int             `json:"delaySeconds,omitempty"`
	AppliedActions   []AppliedAction `json:"appliedActions"`
	Mutations        []Mutation      `json:"mutations,omitempty"`
	// ForwardTo, BCC and RedirectTo are additional recipients queued by
	// forward/add_bcc/redirect actions. Delivery to them is the caller's job.
	ForwardTo  []string         `json:"forwardTo,omitempty"`
	BCC        []string         `json:"bcc,omitempty"`
	RedirectTo []string         `json:"redirectTo,omitempty"`
	Webhooks   []WebhookRequest `json:"webhooks,omitempty"`
	// Degraded is set when the engine failed open (rule set unavailable or
	// evaluation budget exceeded) and the message should be flagged for
	// manual review.
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
	// EvaluatedRules counts how many rules were considered before the run
	// halted or the set was exhausted.
	EvaluatedRules int `json:"evaluatedRules"`
}

// Terminal reports whether an action fixes the final disposition.
func (a RuleAction) Terminal() bool {
	switch a {
	case ActionDeliver, ActionDeliverFolder, ActionReject, ActionQuarantine, ActionDelay:
		return true
	default:
		return false
	}
}

// RoutingLogEntry is the append-only audit record of one evaluation step.
// One entry is written per matched rule with logging enabled, plus one
// summary entry (empty RuleID) per decision.
type RoutingLogEntry struct {
	ID                string        `json:"id"`
	MessageID         string        `json:"messageId"`
	RuleID            string        `json:"ruleId,omitempty"`
	RuleName          string        `json:"ruleName,omitempty"`
	Action            RuleAction    `json:"action,omitempty"`
	Direction         Direction     `json:"direction"`
	Sender            string        `json:"sender"`
	Recipients        []string      `json:"recipients"`
	MatchedConditions []Condition   `json:"matchedConditions,omitempty"`
	Disposition       Disposition   `json:"disposition"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// MergePolicy controls how domain rules and organization transport rules are
// interleaved for one evaluation run. Domain rules are the more specific
// override, so domain-first is the default.
type MergePolicy string

const (
	MergeDomainFirst    MergePolicy = "domain_first"
	MergeTransportFirst MergePolicy = "transport_first"
	// MergeByPriority interleaves both scopes into a single priority order.
	MergeByPriority MergePolicy = "by_priority"
)
