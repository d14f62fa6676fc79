/*
calculator.go - Benefit calculator

PURPOSE:
  Given a beneficiary's attributes and a program's ordered rule set, selects
  the first matching rule and computes the monetary amount, applying caps.

ALGORITHM:
  1. Inactive program                   -> zero, "program is not active"
  2. No effective area at all           -> zero, "no effective area registered"
     Area from an earlier year is used with a warning.
  3. Negative net effective area        -> zero, "effective area is negative"
  4. No rules                           -> zero, "program has no rules configured"
  5. Rules in order; malformed rules are skipped with a warning.
     First rule whose condition matches:
       - periodicity guard denies       -> zero, guard reason
       - formula by kind, capped by the quantity/value ceiling and by what
         remains of the period balance
  6. No match                           -> zero, "beneficiary does not meet any
                                           rule's eligibility criteria"

  Absence of data and exhausted limits are outcomes, not errors. Amounts are
  rounded to two places only when the result is returned.

SEE ALSO:
  - guard.go: CheckPeriodAllowance
  - balance.go: RemainingBalance
  - engine.go: Loads the inputs from the store
*/
package benefit

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	ReasonProgramInactive  = "program is not active"
	ReasonNoArea           = "no effective area registered"
	ReasonNegativeArea     = "effective area is negative"
	ReasonNoRules          = "program has no rules configured"
	ReasonNoMatch          = "beneficiary does not meet any rule's eligibility criteria"
	ReasonNeedsQuantity    = "rule matched; a requested quantity is required to compute the amount"
	ReasonManualReview     = "requires manual review"
	ReasonBalanceExhausted = "benefit ceiling exhausted for the active period"
	ReasonCalculated       = "benefit calculated"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// INPUT / RESULT
// =============================================================================

// CalculationInput is everything one evaluation needs. History holds the
// beneficiary's approved/paid requests for the program.
type CalculationInput struct {
	Program       Program
	Beneficiary   Beneficiary
	Area          *EffectiveArea
	ReferenceYear int
	Rules         []Rule
	Requested     *decimal.Decimal
	History       []BenefitRequest
	Now           time.Time
}

type CalculationResult struct {
	BeneficiaryID        BeneficiaryID
	ProgramID            ProgramID
	MatchedRuleID        *RuleID
	RuleKind             RuleKind
	Eligible             bool
	Amount               decimal.Decimal
	GrantedQuantity      *decimal.Decimal
	Reason               string
	Warnings             []string
	Breakdown            []string
	RequiresManualReview bool
	Capped               bool
	Allowance            *Allowance
	Balance              *Balance
	EvaluatedAt          time.Time
}

// Outcome is a short label used for metrics and logs.
func (r CalculationResult) Outcome() string {
	switch {
	case r.Allowance != nil && !r.Allowance.Allowed:
		return "denied"
	case r.MatchedRuleID == nil:
		return "ineligible"
	case r.RequiresManualReview:
		return "manual_review"
	case r.Capped:
		return "capped"
	default:
		return "calculated"
	}
}

func (r *CalculationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *CalculationResult) note(format string, args ...any) {
	r.Breakdown = append(r.Breakdown, fmt.Sprintf(format, args...))
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator evaluates rules. It holds no mutable state and is safe for
// concurrent use.
type Calculator struct {
	Log *zerolog.Logger
}

func (c Calculator) logger() *zerolog.Logger {
	if c.Log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return c.Log
}

// Calculate runs the algorithm described at the top of this file.
func (c Calculator) Calculate(in CalculationInput) CalculationResult {
	res := CalculationResult{
		BeneficiaryID: in.Beneficiary.ID,
		ProgramID:     in.Program.ID,
		Amount:        decimal.Zero,
		Warnings:      []string{},
		Breakdown:     []string{},
		EvaluatedAt:   in.Now,
	}

	rule, attrs, ok := c.selectRule(in, &res)
	if !ok {
		return res
	}
	c.apply(*rule, attrs, in, &res)
	res.Amount = RoundMoney(res.Amount)
	return res
}

// selectRule performs steps 1-6 up to the first match. When no rule applies
// res carries the reason and ok is false.
func (c Calculator) selectRule(in CalculationInput, res *CalculationResult) (*Rule, Attributes, bool) {
	if !in.Program.Active {
		res.Reason = ReasonProgramInactive
		return nil, Attributes{}, false
	}
	if in.Area == nil {
		res.Reason = ReasonNoArea
		return nil, Attributes{}, false
	}
	if in.ReferenceYear != 0 && in.Area.Year != in.ReferenceYear {
		res.warn("no effective area registered for %d; using %d", in.ReferenceYear, in.Area.Year)
	}

	net := in.Area.Net()
	res.note("effective area (%d): %s owned + %s received - %s ceded = %s %s",
		in.Area.Year, in.Area.Owned, in.Area.LeaseReceived, in.Area.LeaseCeded, net, unitOr(in.Area.Unit, UnitAlqueire))
	if net.IsNegative() {
		res.Reason = ReasonNegativeArea
		res.warn("ceded lease area exceeds owned plus received area")
		return nil, Attributes{}, false
	}
	if len(in.Rules) == 0 {
		res.Reason = ReasonNoRules
		return nil, Attributes{}, false
	}

	attrs := newAttributes(in.Beneficiary, net, in.Requested)

	for _, rule := range ordered(in.Rules) {
		if err := rule.Validate(); err != nil {
			res.warn("rule %s skipped: %v", rule.ID, err)
			c.logger().Warn().
				Str("program_id", string(in.Program.ID)).
				Str("rule_id", string(rule.ID)).
				Err(err).
				Msg("skipping malformed rule")
			continue
		}
		if attrs.Matches(rule.Condition) {
			r := rule
			return &r, attrs, true
		}
	}

	res.Reason = ReasonNoMatch
	return nil, Attributes{}, false
}

func newAttributes(b Beneficiary, area decimal.Decimal, requested *decimal.Decimal) Attributes {
	return Attributes{
		EffectiveArea:     area,
		RequestedQuantity: requested,
		DeclaredRevenue:   b.DeclaredRevenue,
		Category:          b.Category,
	}
}

func (c Calculator) apply(rule Rule, attrs Attributes, in CalculationInput, res *CalculationResult) {
	id := rule.ID
	res.MatchedRuleID = &id
	res.RuleKind = rule.Kind()
	res.note("matched rule %s (%s)%s", rule.ID, rule.Kind(), describe(rule))

	allowance := CheckPeriodAllowance(rule, in.History, in.Now)
	res.Allowance = &allowance
	if !allowance.Allowed {
		res.Reason = allowance.Reason
		return
	}
	res.Eligible = true

	balance := RemainingBalance(rule, in.History, attrs, in.Now)
	if !balance.Unlimited {
		res.Balance = &balance
		res.note("period balance %s: %s of %s %s used", balance.Window, balance.Used, balance.Ceiling, balance.Unit)
	}

	switch f := rule.Formula.(type) {
	case AreaBased:
		c.perUnit(f.UnitValue, rule, attrs, in, res)
	case FixedUnitValue:
		c.perUnit(f.UnitValue, rule, attrs, in, res)
	case EquipmentValueBased:
		c.equipment(f.UnitValue, rule, attrs, in, res)
	case Custom:
		res.Amount = f.UnitValue
		res.RequiresManualReview = true
		res.Reason = ReasonManualReview
		res.note("custom rule: flat value %s", f.UnitValue)
		res.warn("rule %s requires manual review; amount is the configured unit value", rule.ID)
	}
}

// perUnit handles AreaBased and FixedUnitValue: quantity x unit value.
func (c Calculator) perUnit(unitValue decimal.Decimal, rule Rule, attrs Attributes, in CalculationInput, res *CalculationResult) {
	if in.Requested == nil {
		res.Reason = ReasonNeedsQuantity
		res.warn("supply a requested quantity to compute the amount for rule %s", rule.ID)
		return
	}
	qty := *in.Requested
	if qty.IsNegative() {
		res.Reason = ReasonNeedsQuantity
		res.warn("requested quantity %s is negative; ignored", qty)
		return
	}
	res.note("requested quantity: %s", qty)
	res.note("unit value: %s", unitValue)

	if capQty, ok := rule.Limit.QuantityCap(attrs); ok && qty.GreaterThan(capQty) {
		res.warn("requested quantity %s exceeds the limit of %s %s; capped", qty, capQty, unitOr(rule.Limit.Unit, UnitEach))
		res.note("quantity cap: %s", capQty)
		res.Capped = true
		qty = capQty
	}
	if b := res.Balance; b != nil && b.Kind != LimitValue && qty.GreaterThan(b.Remaining) {
		res.warn("only %s %s remain in the active period; capped", b.Remaining, b.Unit)
		res.Capped = true
		qty = b.Remaining
	}

	res.GrantedQuantity = &qty
	res.Amount = qty.Mul(unitValue)
	c.capValue(rule, attrs, res)
	c.finish(res)
}

// equipment handles EquipmentValueBased: the requested quantity is an
// invoice value.
func (c Calculator) equipment(unitValue decimal.Decimal, rule Rule, attrs Attributes, in CalculationInput, res *CalculationResult) {
	if in.Requested == nil {
		res.Reason = ReasonNeedsQuantity
		res.warn("supply the invoice value to compute the amount for rule %s", rule.ID)
		return
	}
	invoice := *in.Requested
	if invoice.IsNegative() {
		res.Reason = ReasonNeedsQuantity
		res.warn("invoice value %s is negative; ignored", invoice)
		return
	}
	res.note("invoice value: %s", invoice)

	if pct, ok := rule.Limit.PercentageRate(); ok {
		res.Amount = invoice.Mul(pct).Div(hundred)
		res.note("subsidised share: %s%%", pct)
	} else {
		res.Amount = decimal.Min(invoice, unitValue)
		res.note("maximum per item: %s", unitValue)
		if invoice.GreaterThan(unitValue) {
			res.warn("invoice value %s exceeds the maximum of %s; capped", invoice, unitValue)
			res.Capped = true
		}
	}
	c.capValue(rule, attrs, res)
	c.finish(res)
}

// capValue applies an absolute value ceiling and the remaining value balance.
func (c Calculator) capValue(rule Rule, attrs Attributes, res *CalculationResult) {
	if capVal, ok := rule.Limit.ValueCap(attrs); ok && res.Amount.GreaterThan(capVal) {
		res.warn("amount %s exceeds the limit of %s; capped", RoundMoney(res.Amount), capVal)
		res.note("value cap: %s", capVal)
		res.Capped = true
		res.Amount = capVal
	}
	if b := res.Balance; b != nil && b.Kind == LimitValue && res.Amount.GreaterThan(b.Remaining) {
		res.warn("only %s remain in the active period; capped", b.Remaining)
		res.Capped = true
		res.Amount = b.Remaining
	}
}

func (c Calculator) finish(res *CalculationResult) {
	if res.Balance != nil && res.Balance.Remaining.IsZero() && res.Amount.IsZero() {
		res.Reason = ReasonBalanceExhausted
		return
	}
	res.Reason = ReasonCalculated
}

// ordered returns a copy sorted by Position; equal positions keep their
// input order.
func ordered(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func describe(rule Rule) string {
	if rule.Condition.Description != "" {
		return ": " + rule.Condition.Description
	}
	if rule.Name != "" {
		return ": " + rule.Name
	}
	return ""
}

func unitOr(u, fallback Unit) Unit {
	if u == "" {
		return fallback
	}
	return u
}
