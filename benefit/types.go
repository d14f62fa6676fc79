/*
Package benefit provides the benefit eligibility and calculation engine.

PURPOSE:
  Decides, for a beneficiary and a subsidy program, whether a benefit
  applies, how much it is worth, and whether regulatory limits (absolute
  caps, percentage caps, recurrence intervals) are already exhausted. It
  also owns the benefit request lifecycle and its audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe IDs for beneficiaries, programs, rules, requests
  - Unit: what a quantity or ceiling is measured in (alqueire, ton, BRL...)
  - Program / Beneficiary / EffectiveArea: the inputs the engine reads
  - BenefitRequest / StatusHistoryEntry: the ledger the engine writes

DESIGN PRINCIPLES:
  1. Precision: all money and quantities are decimal.Decimal
  2. Derived values are recomputed: effective area and balances are never
     stored independently of their inputs
  3. Auditability: every status change appends a history entry keyed by
     the request ID

SEE ALSO:
  - rule.go: Rule definition model (tagged union per rule kind)
  - condition.go: Condition evaluator
  - calculator.go: Benefit calculator
  - guard.go, balance.go: Periodicity and balance guard
  - lifecycle.go: Request state machine
*/
package benefit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BeneficiaryID string
type ProgramID string
type RuleID string
type RequestID string
type ActorID string

// =============================================================================
// UNITS
// =============================================================================

type Unit string

const (
	UnitAlqueire Unit = "alqueire"
	UnitHectare  Unit = "hectare"
	UnitTon      Unit = "ton"
	UnitLiter    Unit = "liter"
	UnitHour     Unit = "hour"
	UnitEach     Unit = "unit"
	UnitCurrency Unit = "brl"
	UnitPercent  Unit = "percent"
)

// MoneyPlaces is the number of decimal places results are rounded to.
const MoneyPlaces = 2

// RoundMoney rounds to MoneyPlaces. Only call at the point of return.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Dec is a convenience constructor used by presets and tests.
func Dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecPtr returns a pointer to a parsed decimal.
func DecPtr(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

// =============================================================================
// PROGRAM & BENEFICIARY
// =============================================================================

// Program is a named subsidy scheme. Programs are soft-deactivated, never
// deleted while requests reference them.
type Program struct {
	ID        ProgramID
	Name      string
	Category  string
	Active    bool
	CreatedAt time.Time
}

// Beneficiary is a producer eligible to request program benefits.
type Beneficiary struct {
	ID              BeneficiaryID
	Name            string
	Document        string
	Category        string
	DeclaredRevenue decimal.Decimal
	CreatedAt       time.Time
}

// =============================================================================
// EFFECTIVE AREA
// =============================================================================

// EffectiveArea holds the area inputs for one beneficiary and reference year.
// The net value is always derived; there is no stored total.
type EffectiveArea struct {
	BeneficiaryID BeneficiaryID
	Year          int
	Owned         decimal.Decimal
	LeaseReceived decimal.Decimal
	LeaseCeded    decimal.Decimal
	Unit          Unit
}

// Net returns owned + received lease - ceded lease. Not floored at zero.
func (a EffectiveArea) Net() decimal.Decimal {
	return a.Owned.Add(a.LeaseReceived).Sub(a.LeaseCeded)
}

// =============================================================================
// BENEFIT REQUEST & HISTORY
// =============================================================================

// BenefitRequest is a beneficiary's submission against a program.
// It is mutated only through the lifecycle and never physically deleted.
type BenefitRequest struct {
	ID                RequestID
	BeneficiaryID     BeneficiaryID
	ProgramID         ProgramID
	RequestedQuantity *decimal.Decimal
	GrantedQuantity   *decimal.Decimal
	Amount            decimal.Decimal
	MatchedRuleID     *RuleID
	Status            Status
	Notes             string
	RequestedAt       time.Time
	UpdatedAt         time.Time
}

// Quantity returns what the request draws from a quantity ceiling: the
// granted quantity after caps, else the requested one, else zero.
func (r BenefitRequest) Quantity() decimal.Decimal {
	switch {
	case r.GrantedQuantity != nil:
		return *r.GrantedQuantity
	case r.RequestedQuantity != nil:
		return *r.RequestedQuantity
	default:
		return decimal.Zero
	}
}

// StatusHistoryEntry is an immutable audit record of one transition.
// From is nil for the entry written when the request is created.
type StatusHistoryEntry struct {
	ID        string
	RequestID RequestID
	From      *Status
	To        Status
	ActorID   ActorID
	Reason    string
	At        time.Time
}
