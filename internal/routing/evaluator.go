package routing

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mail-router/internal/common/logging"
)

// CompiledRule wraps a Rule with pre-processed condition data so the hot
// evaluation path never compiles regexes or parses numbers.
type CompiledRule struct {
	Rule       *Rule
	conditions []compiledCondition
	// exceptions holds the rule's sender exceptions lower-cased for the
	// bypass check.
	exceptions map[string]struct{}
}

// compiledCondition is one pre-processed condition.
type compiledCondition struct {
	cond Condition
	// re is set for matches conditions with IsRegex.
	re *regexp.Regexp
	// num is the parsed threshold for numeric comparisons on size.
	num   int64
	numOK bool
	// broken marks a condition that failed to compile despite write-time
	// validation. It evaluates false and is logged once at compile time.
	broken bool
}

// CompileRule pre-processes a rule for evaluation. Compilation never fails:
// a condition that cannot be compiled is marked broken and evaluates false,
// per the fail-closed policy for malformed conditions.
func CompileRule(rule *Rule, logger logging.Logger) *CompiledRule {
	cr := &CompiledRule{
		Rule:       rule,
		conditions: make([]compiledCondition, 0, len(rule.Conditions)),
	}

	if len(rule.Exceptions) > 0 {
		cr.exceptions = make(map[string]struct{}, len(rule.Exceptions))
		for _, addr := range rule.Exceptions {
			cr.exceptions[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
		}
	}

	for _, cond := range rule.Conditions {
		cc := compiledCondition{cond: cond}

		if cond.Operator == OpMatches && cond.IsRegex {
			pattern := cond.Value
			if cond.CaseInsensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				// Should have been caught at save time; fail closed.
				logger.Warn("malformed regex in routing condition, condition will not match",
					logging.Field{Key: "rule_id", Value: rule.ID},
					logging.Field{Key: "pattern", Value: cond.Value})
				cc.broken = true
			} else {
				cc.re = re
			}
		}

		if cond.Field == FieldSize && (cond.Operator == OpGreaterThan || cond.Operator == OpLessThan || cond.Operator == OpEquals) {
			n, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64)
			if err != nil {
				logger.Warn("non-numeric size threshold in routing condition, condition will not match",
					logging.Field{Key: "rule_id", Value: rule.ID},
					logging.Field{Key: "value", Value: cond.Value})
				cc.broken = true
			} else {
				cc.num = n
				cc.numOK = true
			}
		}

		cr.conditions = append(cr.conditions, cc)
	}

	return cr
}

// Evaluator evaluates individual conditions against a message context.
// It is pure and stateless apart from its logger; evaluating a condition
// never mutates the context and never returns an error. Misconfigured
// conditions fail closed (evaluate false) with a warning.
type Evaluator struct {
	logger logging.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger logging.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate tests one compiled condition against the message.
func (e *Evaluator) Evaluate(msg *MessageContext, cc *compiledCondition) bool {
	if cc.broken {
		return false
	}

	cond := &cc.cond

	switch cond.Field {
	case FieldSize:
		return e.evaluateSize(msg.Size, cc)
	case FieldDate:
		return e.evaluateDate(msg.Date, cc)
	case FieldHeader:
		value, ok := msg.Header(cond.HeaderName)
		if !ok {
			// Missing header never matches in the routing condition set.
			return false
		}
		return e.evaluateString(value, cc)
	case FieldAttachment:
		// Existential: any attachment filename or MIME type satisfying the
		// test satisfies the condition.
		for _, att := range msg.Attachments {
			if e.evaluateString(att.Filename, cc) || e.evaluateString(att.ContentType, cc) {
				return true
			}
		}
		return false
	default:
		for _, value := range e.fieldValues(msg, cond.Field) {
			if e.evaluateString(value, cc) {
				return true
			}
		}
		return false
	}
}

// fieldValues extracts the candidate strings for a string-valued field.
// Multi-valued fields (to, cc) are quantified existentially.
func (e *Evaluator) fieldValues(msg *MessageContext, field ConditionField) []string {
	switch field {
	case FieldFrom:
		return []string{msg.Sender}
	case FieldTo:
		return msg.Recipients
	case FieldCC:
		return msg.CC
	case FieldSubject:
		return []string{msg.Subject}
	case FieldBody:
		return []string{msg.BodyExcerpt}
	default:
		e.logger.Warn("unsupported condition field reached evaluation",
			logging.Field{Key: "field", Value: string(field)})
		return nil
	}
}

func (e *Evaluator) evaluateString(value string, cc *compiledCondition) bool {
	cond := &cc.cond
	expected := cond.Value
	if cond.CaseInsensitive {
		value = strings.ToLower(value)
		expected = strings.ToLower(expected)
	}

	switch cond.Operator {
	case OpEquals:
		return value == expected
	case OpContains:
		return strings.Contains(value, expected)
	case OpStartsWith:
		return strings.HasPrefix(value, expected)
	case OpEndsWith:
		return strings.HasSuffix(value, expected)
	case OpMatches:
		if cc.re != nil {
			return cc.re.MatchString(value)
		}
		// matches without isRegex degenerates to substring containment.
		return strings.Contains(value, expected)
	case OpGreaterThan, OpLessThan:
		// Ordering comparisons only apply to size and date. On string
		// fields this is a configuration error; fail closed.
		e.logger.Warn("ordering operator applied to string field, condition fails closed",
			logging.Field{Key: "operator", Value: string(cond.Operator)},
			logging.Field{Key: "field", Value: string(cond.Field)})
		return false
	default:
		e.logger.Warn("unsupported condition operator reached evaluation",
			logging.Field{Key: "operator", Value: string(cond.Operator)})
		return false
	}
}

func (e *Evaluator) evaluateSize(size int64, cc *compiledCondition) bool {
	cond := &cc.cond
	switch cond.Operator {
	case OpGreaterThan:
		return cc.numOK && size > cc.num
	case OpLessThan:
		return cc.numOK && size < cc.num
	case OpEquals:
		return cc.numOK && size == cc.num
	default:
		// Substring-style operators on a byte count are a configuration
		// error; fail closed.
		e.logger.Warn("string operator applied to size field, condition fails closed",
			logging.Field{Key: "operator", Value: string(cond.Operator)})
		return false
	}
}

// evaluateDate compares the message's own timestamp against the condition
// value lexicographically in RFC 3339 form, which orders correctly for
// ISO-8601 timestamps in UTC. The wall clock is never consulted.
func (e *Evaluator) evaluateDate(date time.Time, cc *compiledCondition) bool {
	cond := &cc.cond
	value := date.UTC().Format(time.RFC3339)
	expected := strings.TrimSpace(cond.Value)

	switch cond.Operator {
	case OpGreaterThan:
		return value > expected
	case OpLessThan:
		return value < expected
	case OpEquals:
		return value == expected
	default:
		e.logger.Warn("string operator applied to date field, condition fails closed",
			logging.Field{Key: "operator", Value: string(cond.Operator)})
		return false
	}
}
