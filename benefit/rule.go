/*
rule.go - Rule definition model

PURPOSE:
  A Rule is one eligibility + payout formula belonging to a program. Rules
  are evaluated in creation order and the first matching rule wins.

RULE KINDS (closed set):
  AreaBased:           quantity requested x unit value, gated on effective area
  EquipmentValueBased: percentage of an invoice value, or the invoice value
                       bounded by the unit value
  FixedUnitValue:      quantity requested x unit value
  Custom:              flat unit value, always flagged for manual review

  The kind is carried by the concrete Formula type. The calculator does an
  exhaustive type switch over these four types; anything else (including a
  nil formula left by a decoder that met an unknown kind) is treated as
  malformed and skipped.

LIMITS:
  A rule has at most one Limit. Its Kind names which ceiling it carries:
    quantity:   maximum quantity per period
    value:      maximum monetary amount per period
    percentage: share of the declared value that is subsidised
    area:       quantity allowed per unit of effective area
  Optional Period adds a cool-down, optional Scale derives the ceiling from
  a beneficiary attribute (e.g. 10 tons per alqueire).

SEE ALSO:
  - factory/rule.go: JSON/YAML decoding with load-time validation
  - calculator.go: Applies formulas and limits
*/
package benefit

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// FORMULA - Tagged union per rule kind
// =============================================================================

type RuleKind string

const (
	KindAreaBased           RuleKind = "AreaBased"
	KindEquipmentValueBased RuleKind = "EquipmentValueBased"
	KindFixedUnitValue      RuleKind = "FixedUnitValue"
	KindCustom              RuleKind = "Custom"
)

// Formula is implemented only by the four rule kinds in this package.
type Formula interface {
	Kind() RuleKind
	Rate() decimal.Decimal
	sealed()
}

type AreaBased struct{ UnitValue decimal.Decimal }
type EquipmentValueBased struct{ UnitValue decimal.Decimal }
type FixedUnitValue struct{ UnitValue decimal.Decimal }
type Custom struct{ UnitValue decimal.Decimal }

func (AreaBased) Kind() RuleKind           { return KindAreaBased }
func (EquipmentValueBased) Kind() RuleKind { return KindEquipmentValueBased }
func (FixedUnitValue) Kind() RuleKind      { return KindFixedUnitValue }
func (Custom) Kind() RuleKind              { return KindCustom }

func (f AreaBased) Rate() decimal.Decimal           { return f.UnitValue }
func (f EquipmentValueBased) Rate() decimal.Decimal { return f.UnitValue }
func (f FixedUnitValue) Rate() decimal.Decimal      { return f.UnitValue }
func (f Custom) Rate() decimal.Decimal              { return f.UnitValue }

func (AreaBased) sealed()           {}
func (EquipmentValueBased) sealed() {}
func (FixedUnitValue) sealed()      {}
func (Custom) sealed()              {}

// NewFormula builds the formula for a kind name. Unknown kinds return nil.
func NewFormula(kind RuleKind, unitValue decimal.Decimal) Formula {
	switch kind {
	case KindAreaBased:
		return AreaBased{UnitValue: unitValue}
	case KindEquipmentValueBased:
		return EquipmentValueBased{UnitValue: unitValue}
	case KindFixedUnitValue:
		return FixedUnitValue{UnitValue: unitValue}
	case KindCustom:
		return Custom{UnitValue: unitValue}
	default:
		return nil
	}
}

// =============================================================================
// LIMIT
// =============================================================================

type LimitKind string

const (
	LimitQuantity   LimitKind = "quantity"
	LimitValue      LimitKind = "value"
	LimitPercentage LimitKind = "percentage"
	LimitArea       LimitKind = "area"
)

// Periodicity is the cool-down between benefits under the same rule.
// MaxOccurrences of zero means one.
type Periodicity struct {
	Months         int
	MaxOccurrences int
}

func (p Periodicity) Occurrences() int {
	if p.MaxOccurrences <= 0 {
		return 1
	}
	return p.MaxOccurrences
}

// Scaling derives a ceiling from a beneficiary attribute.
type Scaling struct {
	BaseAttribute Subject
	Multiplier    decimal.Decimal
}

type Limit struct {
	Kind    LimitKind
	Ceiling decimal.Decimal
	Unit    Unit

	// Percentage applies to EquipmentValueBased rules whose limit is a value
	// ceiling; for percentage limits the Ceiling itself is the rate.
	Percentage *decimal.Decimal

	Period *Periodicity
	Scale  *Scaling
}

// PercentageRate returns the subsidised share, if one is configured.
func (l *Limit) PercentageRate() (decimal.Decimal, bool) {
	if l == nil {
		return decimal.Zero, false
	}
	if l.Kind == LimitPercentage {
		return l.Ceiling, true
	}
	if l.Percentage != nil {
		return *l.Percentage, true
	}
	return decimal.Zero, false
}

// QuantityCap returns the maximum quantity for quantity and area limits.
func (l *Limit) QuantityCap(attrs Attributes) (decimal.Decimal, bool) {
	if l == nil {
		return decimal.Zero, false
	}
	switch l.Kind {
	case LimitQuantity:
		return l.scaled(attrs), true
	case LimitArea:
		return l.Ceiling.Mul(attrs.EffectiveArea), true
	default:
		return decimal.Zero, false
	}
}

// ValueCap returns the monetary ceiling for value limits.
func (l *Limit) ValueCap(attrs Attributes) (decimal.Decimal, bool) {
	if l == nil || l.Kind != LimitValue {
		return decimal.Zero, false
	}
	return l.scaled(attrs), true
}

// scaled applies Scale: base x multiplier, bounded by Ceiling when positive.
func (l *Limit) scaled(attrs Attributes) decimal.Decimal {
	if l.Scale == nil {
		return l.Ceiling
	}
	derived := attrs.Value(l.Scale.BaseAttribute).Mul(l.Scale.Multiplier)
	if derived.IsNegative() {
		derived = decimal.Zero
	}
	if l.Ceiling.IsPositive() && derived.GreaterThan(l.Ceiling) {
		return l.Ceiling
	}
	return derived
}

func (l *Limit) Validate() error {
	if l == nil {
		return nil
	}
	switch l.Kind {
	case LimitQuantity, LimitValue, LimitArea:
		if l.Ceiling.IsNegative() {
			return &RuleConfigError{Field: "limit.ceiling", Message: "must not be negative"}
		}
	case LimitPercentage:
		if l.Ceiling.IsNegative() || l.Ceiling.GreaterThan(decimal.NewFromInt(100)) {
			return &RuleConfigError{Field: "limit.ceiling", Message: "percentage must be within [0, 100]"}
		}
	default:
		return &RuleConfigError{Field: "limit.kind", Message: "unsupported limit kind " + string(l.Kind)}
	}
	if l.Percentage != nil && (l.Percentage.IsNegative() || l.Percentage.GreaterThan(decimal.NewFromInt(100))) {
		return &RuleConfigError{Field: "limit.percentage", Message: "must be within [0, 100]"}
	}
	if l.Period != nil && l.Period.Months <= 0 {
		return &RuleConfigError{Field: "limit.period.months", Message: "must be positive"}
	}
	if l.Scale != nil {
		switch l.Scale.BaseAttribute {
		case SubjectEffectiveArea, SubjectDeclaredRevenue:
		default:
			return &RuleConfigError{Field: "limit.scale.base_attribute", Message: "unsupported attribute " + string(l.Scale.BaseAttribute)}
		}
	}
	return nil
}

// =============================================================================
// RULE
// =============================================================================

type Rule struct {
	ID        RuleID
	ProgramID ProgramID
	Position  int
	Name      string
	Condition Condition
	Formula   Formula
	Limit     *Limit

	// RawKind keeps the stored kind string so a rule whose kind could not be
	// decoded can still be reported by name.
	RawKind string
}

// Kind returns the formula kind, or the raw stored kind when undecodable.
func (r Rule) Kind() RuleKind {
	if r.Formula == nil {
		return RuleKind(r.RawKind)
	}
	return r.Formula.Kind()
}

// Validate checks the rule is evaluable. The calculator skips rules that
// fail validation instead of aborting the evaluation.
func (r Rule) Validate() error {
	if r.Formula == nil {
		return &RuleConfigError{RuleID: r.ID, Field: "kind", Message: "unrecognized rule kind " + quote(r.RawKind)}
	}
	if r.Formula.Rate().IsNegative() {
		return &RuleConfigError{RuleID: r.ID, Field: "unit_value", Message: "must not be negative"}
	}
	if err := r.Condition.Validate(); err != nil {
		return withRule(err, r.ID)
	}
	if err := r.Limit.Validate(); err != nil {
		return withRule(err, r.ID)
	}
	return nil
}

// Period returns the rule's cool-down, if any.
func (r Rule) Period() *Periodicity {
	if r.Limit == nil {
		return nil
	}
	return r.Limit.Period
}

// =============================================================================
// ATTRIBUTES - Inputs a condition can be tested against
// =============================================================================

type Attributes struct {
	EffectiveArea     decimal.Decimal
	RequestedQuantity *decimal.Decimal
	DeclaredRevenue   decimal.Decimal
	Category          string
}

// Value returns the numeric attribute for a subject. Missing requested
// quantity reads as zero.
func (a Attributes) Value(s Subject) decimal.Decimal {
	switch s {
	case SubjectRequestedQuantity:
		if a.RequestedQuantity == nil {
			return decimal.Zero
		}
		return *a.RequestedQuantity
	case SubjectDeclaredRevenue:
		return a.DeclaredRevenue
	default:
		return a.EffectiveArea
	}
}

// Matches reports whether the rule's condition holds for these attributes.
func (a Attributes) Matches(c Condition) bool {
	if c.SubjectOrDefault() == SubjectCategory {
		return EvaluateCategory(a.Category, c)
	}
	return Evaluate(a.Value(c.SubjectOrDefault()), c)
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return "'" + s + "'"
}
