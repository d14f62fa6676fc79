package benefit

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONDITION - What a beneficiary must satisfy for a rule to apply
// =============================================================================

type Comparator string

const (
	LessThan    Comparator = "lessThan"
	GreaterThan Comparator = "greaterThan"
	Equals      Comparator = "equals"
	Between     Comparator = "between"
	Contains    Comparator = "contains"
	NotContains Comparator = "notContains"
)

// Subject selects which beneficiary attribute a condition is tested against.
type Subject string

const (
	SubjectEffectiveArea     Subject = "effectiveArea"
	SubjectRequestedQuantity Subject = "requestedQuantity"
	SubjectDeclaredRevenue   Subject = "declaredRevenue"
	SubjectCategory          Subject = "category"
)

// Condition is a small tagged structure. Value is used by the scalar
// comparators, Min/Max by between, Values by the categorical comparators.
type Condition struct {
	Comparator  Comparator
	Value       *decimal.Decimal
	Min         *decimal.Decimal
	Max         *decimal.Decimal
	Values      []string
	Subject     Subject
	Unit        Unit
	Description string
}

// SubjectOrDefault returns the subject, defaulting to effective area.
func (c Condition) SubjectOrDefault() Subject {
	if c.Subject == "" {
		return SubjectEffectiveArea
	}
	return c.Subject
}

// Evaluate tests a numeric value against the condition.
// Unsupported comparators and missing operands fail closed.
func Evaluate(value decimal.Decimal, c Condition) bool {
	switch c.Comparator {
	case LessThan:
		return c.Value != nil && value.LessThan(*c.Value)
	case GreaterThan:
		return c.Value != nil && value.GreaterThan(*c.Value)
	case Equals:
		return c.Value != nil && value.Equal(*c.Value)
	case Between:
		// Missing min is 0, missing max is unbounded.
		lower := decimal.Zero
		if c.Min != nil {
			lower = *c.Min
		}
		if value.LessThan(lower) {
			return false
		}
		return c.Max == nil || value.LessThanOrEqual(*c.Max)
	default:
		return false
	}
}

// EvaluateCategory tests a categorical value against the condition.
// Matching is case-insensitive and ignores surrounding whitespace.
func EvaluateCategory(value string, c Condition) bool {
	switch c.Comparator {
	case Equals:
		return len(c.Values) == 1 && sameCategory(value, c.Values[0])
	case Contains:
		return containsCategory(c.Values, value)
	case NotContains:
		return !containsCategory(c.Values, value)
	default:
		return false
	}
}

// Validate reports missing operands for the comparator.
func (c Condition) Validate() error {
	switch c.Comparator {
	case LessThan, GreaterThan, Between:
		if c.SubjectOrDefault() == SubjectCategory {
			return &RuleConfigError{Field: "condition.subject", Message: string(c.Comparator) + " needs a numeric subject"}
		}
	}

	switch c.Comparator {
	case LessThan, GreaterThan:
		if c.Value == nil {
			return &RuleConfigError{Field: "condition.value", Message: "required for " + string(c.Comparator)}
		}
	case Equals:
		if c.SubjectOrDefault() == SubjectCategory {
			if len(c.Values) != 1 {
				return &RuleConfigError{Field: "condition.values", Message: "equals on category needs exactly one value"}
			}
		} else if c.Value == nil {
			return &RuleConfigError{Field: "condition.value", Message: "required for equals"}
		}
	case Between:
		if c.Min != nil && c.Max != nil && c.Min.GreaterThan(*c.Max) {
			return &RuleConfigError{Field: "condition.min", Message: "min greater than max"}
		}
	case Contains, NotContains:
		if c.SubjectOrDefault() != SubjectCategory {
			return &RuleConfigError{Field: "condition.subject", Message: string(c.Comparator) + " requires the category subject"}
		}
	case "":
		return &RuleConfigError{Field: "condition.comparator", Message: "missing"}
	default:
		return &RuleConfigError{Field: "condition.comparator", Message: "unsupported comparator " + string(c.Comparator)}
	}

	switch c.SubjectOrDefault() {
	case SubjectEffectiveArea, SubjectRequestedQuantity, SubjectDeclaredRevenue, SubjectCategory:
		return nil
	default:
		return &RuleConfigError{Field: "condition.subject", Message: "unsupported subject " + string(c.Subject)}
	}
}

func sameCategory(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsCategory(values []string, v string) bool {
	for _, candidate := range values {
		if sameCategory(candidate, v) {
			return true
		}
	}
	return false
}
