/*
balance.go - Remaining benefit within the active period

KEY INSIGHT:
  Like the ledger balance it is modelled on, the remaining balance is never
  stored. It is recomputed from the authoritative request history on every
  call, so repeated reads over unchanged data return the same value and a
  cached counter can never drift from the ledger.

CALCULATION:
  remaining = max(0, ceiling - used)

  ceiling: the rule limit (scaled by a beneficiary attribute when configured)
  used:    sum over approved/paid requests dated inside the active period of
             - granted quantity for quantity and area limits (the requested
               quantity for requests recorded without one)
             - computed amount for value limits

  Active period: the trailing recurrence interval when the limit has one,
  otherwise the calendar year of 'now'.

  Percentage limits carry no absolute ceiling; the balance is unlimited.
*/
package benefit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	RuleID    *RuleID
	Kind      LimitKind
	Ceiling   decimal.Decimal
	Used      decimal.Decimal
	Remaining decimal.Decimal
	Unit      Unit
	Window    Window
	Unlimited bool
	Reason    string
}

// RemainingBalance computes what is left of rule's ceiling at now.
func RemainingBalance(rule Rule, history []BenefitRequest, attrs Attributes, now time.Time) Balance {
	id := rule.ID
	b := Balance{RuleID: &id, Window: activeWindow(rule, now)}

	limit := rule.Limit
	if limit == nil {
		b.Unlimited = true
		b.Reason = "rule has no limit"
		return b
	}
	b.Kind = limit.Kind
	b.Unit = limit.Unit

	var (
		ceiling  decimal.Decimal
		ok       bool
		byAmount bool
	)
	switch limit.Kind {
	case LimitQuantity, LimitArea:
		ceiling, ok = limit.QuantityCap(attrs)
	case LimitValue:
		ceiling, ok = limit.ValueCap(attrs)
		byAmount = true
		if b.Unit == "" {
			b.Unit = UnitCurrency
		}
	}
	if !ok {
		b.Unlimited = true
		b.Reason = "limit has no absolute ceiling"
		return b
	}

	used := decimal.Zero
	for _, r := range history {
		if !r.Status.Consumes() || !b.Window.Contains(r.RequestedAt) {
			continue
		}
		if byAmount {
			used = used.Add(r.Amount)
		} else {
			used = used.Add(r.Quantity())
		}
	}

	remaining := ceiling.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	b.Ceiling = RoundMoney(ceiling)
	b.Used = RoundMoney(used)
	b.Remaining = RoundMoney(remaining)
	return b
}

func activeWindow(rule Rule, now time.Time) Window {
	if p := rule.Period(); p != nil {
		return TrailingMonths(now, p.Months)
	}
	return CalendarYear(now)
}

// historySince returns the earliest date any rule's guard or balance looks
// at, so a single ledger query covers every rule.
func historySince(rules []Rule, now time.Time) time.Time {
	since := CalendarYear(now).Start
	for _, r := range rules {
		if w := activeWindow(r, now); w.Start.Before(since) {
			since = w.Start
		}
	}
	return since
}
