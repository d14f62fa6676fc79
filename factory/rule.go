/*
Package factory provides JSON/YAML to Go rule conversion.

PURPOSE:
  Converts rule definitions into benefit.Rule values. Program administrators
  configure rules as documents (API payloads, the YAML catalog, the stored
  config column) and the factory builds the tagged formula for the kind.

JSON SCHEMA:
  {
    "id": "limestone-small",
    "program_id": "limestone",
    "name": "Small producers",
    "kind": "AreaBased",
    "unit_value": "100",
    "condition": {
      "comparator": "between",
      "min": "0",
      "max": "6",
      "unit": "alqueire"
    },
    "limit": {
      "kind": "quantity",
      "ceiling": "10",
      "unit": "ton",
      "period": {"months": 6}
    }
  }

DECODING IS LENIENT:
  An unknown kind decodes to a rule with a nil Formula and RawKind set.
  Such a rule is stored and listed, and the calculator skips it with a
  warning. Callers that accept new rules (the admin API) call
  rule.Validate() to reject it up front.

SEE ALSO:
  - benefit/rule.go: Rule type definition
  - factory/catalog.go: YAML catalog seeding
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// RuleJSON is the document representation of a rule.
type RuleJSON struct {
	ID        string          `json:"id" yaml:"id"`
	ProgramID string          `json:"program_id,omitempty" yaml:"program_id,omitempty"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"`
	Kind      string          `json:"kind" yaml:"kind"`
	UnitValue decimal.Decimal `json:"unit_value" yaml:"unit_value"`
	Condition ConditionJSON   `json:"condition" yaml:"condition"`
	Limit     *LimitJSON      `json:"limit,omitempty" yaml:"limit,omitempty"`
}

type ConditionJSON struct {
	Comparator  string           `json:"comparator" yaml:"comparator"`
	Subject     string           `json:"subject,omitempty" yaml:"subject,omitempty"`
	Value       *decimal.Decimal `json:"value,omitempty" yaml:"value,omitempty"`
	Min         *decimal.Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
	Values      []string         `json:"values,omitempty" yaml:"values,omitempty"`
	Unit        string           `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
}

type LimitJSON struct {
	Kind       string           `json:"kind" yaml:"kind"`
	Ceiling    decimal.Decimal  `json:"ceiling" yaml:"ceiling"`
	Unit       string           `json:"unit,omitempty" yaml:"unit,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Period     *PeriodJSON      `json:"period,omitempty" yaml:"period,omitempty"`
	Scale      *ScaleJSON       `json:"scale,omitempty" yaml:"scale,omitempty"`
}

type PeriodJSON struct {
	Months         int `json:"months" yaml:"months"`
	MaxOccurrences int `json:"max_occurrences,omitempty" yaml:"max_occurrences,omitempty"`
}

type ScaleJSON struct {
	BaseAttribute string          `json:"base_attribute" yaml:"base_attribute"`
	Multiplier    decimal.Decimal `json:"multiplier" yaml:"multiplier"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts rule documents to Go structs.
type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a Rule.
func (f *RuleFactory) ParseRule(jsonStr string) (benefit.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return benefit.Rule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts a RuleJSON to a benefit.Rule. Only a missing id is an
// error here; everything else is left for rule.Validate().
func (f *RuleFactory) FromJSON(rj RuleJSON) (benefit.Rule, error) {
	if rj.ID == "" {
		return benefit.Rule{}, &benefit.RuleConfigError{Field: "id", Message: "is required"}
	}

	rule := benefit.Rule{
		ID:        benefit.RuleID(rj.ID),
		ProgramID: benefit.ProgramID(rj.ProgramID),
		Name:      rj.Name,
		Formula:   benefit.NewFormula(benefit.RuleKind(rj.Kind), rj.UnitValue),
		RawKind:   rj.Kind,
		Condition: benefit.Condition{
			Comparator:  benefit.Comparator(rj.Condition.Comparator),
			Subject:     benefit.Subject(rj.Condition.Subject),
			Value:       rj.Condition.Value,
			Min:         rj.Condition.Min,
			Max:         rj.Condition.Max,
			Values:      rj.Condition.Values,
			Unit:        benefit.Unit(rj.Condition.Unit),
			Description: rj.Condition.Description,
		},
	}

	if lj := rj.Limit; lj != nil {
		limit := &benefit.Limit{
			Kind:       benefit.LimitKind(lj.Kind),
			Ceiling:    lj.Ceiling,
			Unit:       benefit.Unit(lj.Unit),
			Percentage: lj.Percentage,
		}
		if lj.Period != nil {
			limit.Period = &benefit.Periodicity{
				Months:         lj.Period.Months,
				MaxOccurrences: lj.Period.MaxOccurrences,
			}
		}
		if lj.Scale != nil {
			limit.Scale = &benefit.Scaling{
				BaseAttribute: benefit.Subject(lj.Scale.BaseAttribute),
				Multiplier:    lj.Scale.Multiplier,
			}
		}
		rule.Limit = limit
	}

	return rule, nil
}

// ToJSON converts a Rule to RuleJSON.
func (f *RuleFactory) ToJSON(rule benefit.Rule) RuleJSON {
	rj := RuleJSON{
		ID:        string(rule.ID),
		ProgramID: string(rule.ProgramID),
		Name:      rule.Name,
		Kind:      string(rule.Kind()),
		Condition: ConditionJSON{
			Comparator:  string(rule.Condition.Comparator),
			Subject:     string(rule.Condition.Subject),
			Value:       rule.Condition.Value,
			Min:         rule.Condition.Min,
			Max:         rule.Condition.Max,
			Values:      rule.Condition.Values,
			Unit:        string(rule.Condition.Unit),
			Description: rule.Condition.Description,
		},
	}
	if rule.Formula != nil {
		rj.UnitValue = rule.Formula.Rate()
	}

	if l := rule.Limit; l != nil {
		lj := &LimitJSON{
			Kind:       string(l.Kind),
			Ceiling:    l.Ceiling,
			Unit:       string(l.Unit),
			Percentage: l.Percentage,
		}
		if l.Period != nil {
			lj.Period = &PeriodJSON{Months: l.Period.Months, MaxOccurrences: l.Period.MaxOccurrences}
		}
		if l.Scale != nil {
			lj.Scale = &ScaleJSON{BaseAttribute: string(l.Scale.BaseAttribute), Multiplier: l.Scale.Multiplier}
		}
		rj.Limit = lj
	}
	return rj
}

// EncodeRule returns the JSON document for a rule. Used by the SQLite store
// for its config column.
func EncodeRule(rule benefit.Rule) ([]byte, error) {
	return json.Marshal(NewRuleFactory().ToJSON(rule))
}

// DecodeRule is the inverse of EncodeRule.
func DecodeRule(data []byte) (benefit.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return benefit.Rule{}, fmt.Errorf("failed to decode rule: %w", err)
	}
	return NewRuleFactory().FromJSON(rj)
}
