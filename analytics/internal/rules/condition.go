package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aegis-telemetry/aegis/common/models"
)

// ConditionRule evaluates `event[field] op value` for a row from the
// alert_rules table.
type ConditionRule struct {
	rule models.Rule
}

// NewConditionRule wraps a rule row in an evaluator.
func NewConditionRule(rule models.Rule) *ConditionRule {
	return &ConditionRule{rule: rule}
}

// Name implements Evaluator.
func (c *ConditionRule) Name() string {
	return c.rule.Name
}

// Evaluate implements Evaluator. A missing or nil field never triggers.
// The rule value is coerced to the event value's type; a rule value that
// cannot be coerced is an evaluation error (the rule fails closed).
func (c *ConditionRule) Evaluate(ctx context.Context, env *models.EventEnvelope) (*Trigger, error) {
	value, ok := env.Field(c.rule.Field)
	if !ok || value == nil {
		return nil, nil
	}

	matched, err := compare(c.rule.Operator, value, c.rule.Value)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", c.rule.Name, err)
	}
	if !matched {
		return nil, nil
	}

	return &Trigger{
		RuleName: c.rule.Name,
		Level:    c.rule.AlertLevel,
		Message:  FormatMessage(c.rule.MessageTemplate, env),
	}, nil
}

// compare applies op between the event value and the rule value, coercing
// the rule value to the event value's type.
func compare(op string, eventVal interface{}, ruleVal string) (bool, error) {
	switch v := eventVal.(type) {
	case float64:
		return compareNumeric(op, v, ruleVal)
	case int64:
		return compareNumeric(op, float64(v), ruleVal)
	case int:
		return compareNumeric(op, float64(v), ruleVal)
	case string:
		return compareOrdered(op, v, ruleVal)
	case bool:
		return compareBool(op, v, ruleVal)
	default:
		return false, fmt.Errorf("field value %v has uncomparable type %T", eventVal, eventVal)
	}
}

func compareNumeric(op string, eventVal float64, ruleVal string) (bool, error) {
	rv, err := strconv.ParseFloat(strings.TrimSpace(ruleVal), 64)
	if err != nil {
		return false, fmt.Errorf("rule value %q is not numeric", ruleVal)
	}
	return compareOrdered(op, eventVal, rv)
}

func compareBool(op string, eventVal bool, ruleVal string) (bool, error) {
	rv, err := strconv.ParseBool(strings.TrimSpace(ruleVal))
	if err != nil {
		return false, fmt.Errorf("rule value %q is not a boolean", ruleVal)
	}
	switch op {
	case "==":
		return eventVal == rv, nil
	case "!=":
		return eventVal != rv, nil
	default:
		return false, fmt.Errorf("operator %q does not apply to booleans", op)
	}
}

func compareOrdered[T float64 | string](op string, a, b T) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// FormatMessage substitutes {field} placeholders in a message template
// with envelope field values. Placeholders naming unknown fields are left
// verbatim.
func FormatMessage(template string, env *models.EventEnvelope) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := env.Field(name)
		if !ok || value == nil {
			return match
		}
		return formatValue(value)
	})
}

func formatValue(v interface{}) string {
	// JSON numbers arrive as float64; render integral values without the
	// trailing ".0" so messages read like the raw event.
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}
