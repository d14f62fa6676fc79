/*
engine.go - Operations exposed to the API layer

OPERATIONS:
  CalculateBenefit     read-only evaluation, no ledger writes
  CheckAllowance       periodicity decision for the rule that applies
  GetRemainingBalance  what is left of the applicable rule's ceiling
  SubmitRequest        creates a pending request (guard re-checked in-tx)
  TransitionRequest    moves a request through the lifecycle atomically
  RequestHistory       the audit trail of one request

CLOCK:
  'now' is read once at the start of each operation and threaded through,
  so one evaluation never sees the wall clock move.

EXAMPLE:
  engine := benefit.NewEngine(store, benefit.WithLogger(log))
  res, err := engine.CalculateBenefit(ctx, "ben-1", "limestone", benefit.DecPtr("5"))
*/
package benefit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Observer receives engine events. metrics.BenefitMetrics implements it.
type Observer interface {
	ObserveCalculation(kind RuleKind, outcome string)
	ObserveTransition(from, to Status)
	ObserveDenial(programID ProgramID)
}

type Engine struct {
	store    TxStore
	calc     Calculator
	clock    func() time.Time
	log      zerolog.Logger
	observer Observer
	newID    func() string
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }
func WithLogger(log zerolog.Logger) Option     { return func(e *Engine) { e.log = log } }
func WithObserver(o Observer) Option           { return func(e *Engine) { e.observer = o } }
func WithIDGenerator(f func() string) Option   { return func(e *Engine) { e.newID = f } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		clock: time.Now,
		log:   zerolog.Nop(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.calc = Calculator{Log: &e.log}
	return e
}

// Submission is a beneficiary-facing request to open a benefit request.
type Submission struct {
	BeneficiaryID     BeneficiaryID
	ProgramID         ProgramID
	RequestedQuantity *decimal.Decimal
	ActorID           ActorID
	Notes             string
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// CalculateBenefit evaluates the program for the beneficiary without
// writing anything.
func (e *Engine) CalculateBenefit(ctx context.Context, beneficiaryID BeneficiaryID, programID ProgramID, requested *decimal.Decimal) (*CalculationResult, error) {
	now := e.clock()
	in, err := loadInput(ctx, e.store, beneficiaryID, programID, requested, now)
	if err != nil {
		return nil, err
	}
	res := e.calc.Calculate(in)
	e.observeCalculation(res)
	return &res, nil
}

// CheckAllowance returns the periodicity decision for the rule that applies
// to the beneficiary. When no rule applies the result is not allowed and
// carries the calculator's reason.
func (e *Engine) CheckAllowance(ctx context.Context, beneficiaryID BeneficiaryID, programID ProgramID) (*Allowance, error) {
	now := e.clock()
	in, err := loadInput(ctx, e.store, beneficiaryID, programID, nil, now)
	if err != nil {
		return nil, err
	}
	var res CalculationResult
	rule, _, ok := e.calc.selectRule(in, &res)
	if !ok {
		return &Allowance{Allowed: false, Reason: res.Reason}, nil
	}
	allowance := CheckPeriodAllowance(*rule, in.History, now)
	if !allowance.Allowed && e.observer != nil {
		e.observer.ObserveDenial(programID)
	}
	return &allowance, nil
}

// GetRemainingBalance returns what is left of the applicable rule's ceiling
// in the active period. It is recomputed from the request ledger each call.
func (e *Engine) GetRemainingBalance(ctx context.Context, beneficiaryID BeneficiaryID, programID ProgramID) (*Balance, error) {
	now := e.clock()
	in, err := loadInput(ctx, e.store, beneficiaryID, programID, nil, now)
	if err != nil {
		return nil, err
	}
	var res CalculationResult
	rule, attrs, ok := e.calc.selectRule(in, &res)
	if !ok {
		return &Balance{
			Ceiling:   decimal.Zero,
			Used:      decimal.Zero,
			Remaining: decimal.Zero,
			Window:    CalendarYear(now),
			Reason:    res.Reason,
		}, nil
	}
	b := RemainingBalance(*rule, in.History, attrs, now)
	return &b, nil
}

// RequestHistory returns the request's status history, oldest first.
func (e *Engine) RequestHistory(ctx context.Context, id RequestID) ([]StatusHistoryEntry, error) {
	if _, err := e.store.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListHistory(ctx, id)
}

// GetRequest returns a single request.
func (e *Engine) GetRequest(ctx context.Context, id RequestID) (*BenefitRequest, error) {
	return e.store.GetRequest(ctx, id)
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// SubmitRequest evaluates the program and records a pending request with
// the computed amount. The guard is re-checked inside the write
// transaction; a denial returns *AllowanceError and writes nothing.
func (e *Engine) SubmitRequest(ctx context.Context, sub Submission) (*BenefitRequest, *CalculationResult, error) {
	if sub.BeneficiaryID == "" || sub.ProgramID == "" {
		return nil, nil, fmt.Errorf("%w: beneficiary and program are required", ErrInvalidInput)
	}
	now := e.clock()

	var (
		created *BenefitRequest
		result  CalculationResult
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		in, err := loadInput(ctx, s, sub.BeneficiaryID, sub.ProgramID, sub.RequestedQuantity, now)
		if err != nil {
			return err
		}
		result = e.calc.Calculate(in)
		if a := result.Allowance; a != nil && !a.Allowed {
			return &AllowanceError{
				BeneficiaryID:    sub.BeneficiaryID,
				ProgramID:        sub.ProgramID,
				Reason:           a.Reason,
				NextEligibleDate: a.NextEligibleDate,
			}
		}

		req := BenefitRequest{
			ID:                RequestID(e.newID()),
			BeneficiaryID:     sub.BeneficiaryID,
			ProgramID:         sub.ProgramID,
			RequestedQuantity: sub.RequestedQuantity,
			GrantedQuantity:   result.GrantedQuantity,
			Amount:            result.Amount,
			MatchedRuleID:     result.MatchedRuleID,
			Status:            StatusPending,
			Notes:             sub.Notes,
			RequestedAt:       now,
			UpdatedAt:         now,
		}
		if err := s.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if err := s.AppendHistory(ctx, StatusHistoryEntry{
			ID:        e.newID(),
			RequestID: req.ID,
			To:        StatusPending,
			ActorID:   sub.ActorID,
			Reason:    "request submitted",
			At:        now,
		}); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		created = &req
		return nil
	})
	if err != nil {
		var denied *AllowanceError
		if errors.As(err, &denied) && e.observer != nil {
			e.observer.ObserveDenial(sub.ProgramID)
		}
		return nil, nil, err
	}

	e.observeCalculation(result)
	e.log.Info().
		Str("request_id", string(created.ID)).
		Str("beneficiary_id", string(created.BeneficiaryID)).
		Str("program_id", string(created.ProgramID)).
		Str("amount", created.Amount.StringFixed(MoneyPlaces)).
		Msg("benefit request submitted")
	return created, &result, nil
}

// TransitionRequest moves a request to status 'to'. The status update and
// the history entry are written in one transaction; an illegal transition
// returns *TransitionError and writes nothing. Approval re-checks the
// periodicity guard against the other granted requests.
func (e *Engine) TransitionRequest(ctx context.Context, id RequestID, to Status, actor ActorID, reason string) (*BenefitRequest, error) {
	if !to.IsKnown() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	now := e.clock()

	var (
		updated *BenefitRequest
		from    Status
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		req, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		from = req.Status
		if err := CanTransition(req.ID, req.Status, to); err != nil {
			return err
		}
		if to == StatusApproved {
			if err := recheckGuard(ctx, s, *req, now); err != nil {
				return err
			}
		}

		updated, err = s.UpdateRequestStatus(ctx, id, to, now)
		if err != nil {
			return fmt.Errorf("failed to update request status: %w", err)
		}
		prev := from
		if err := s.AppendHistory(ctx, StatusHistoryEntry{
			ID:        e.newID(),
			RequestID: id,
			From:      &prev,
			To:        to,
			ActorID:   actor,
			Reason:    reason,
			At:        now,
		}); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
	if err != nil {
		e.log.Warn().Str("request_id", string(id)).Str("to", string(to)).Err(err).Msg("transition rejected")
		return nil, err
	}

	if e.observer != nil {
		e.observer.ObserveTransition(from, to)
	}
	e.log.Info().
		Str("request_id", string(id)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor_id", string(actor)).
		Msg("benefit request transitioned")
	return updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) observeCalculation(res CalculationResult) {
	if e.observer != nil {
		e.observer.ObserveCalculation(res.RuleKind, res.Outcome())
	}
}

// loadInput reads everything Calculate needs. Missing area and rules are
// left empty for the calculator to report; missing program or beneficiary
// are errors.
func loadInput(ctx context.Context, s Store, beneficiaryID BeneficiaryID, programID ProgramID, requested *decimal.Decimal, now time.Time) (CalculationInput, error) {
	program, err := s.GetProgram(ctx, programID)
	if err != nil {
		return CalculationInput{}, err
	}
	beneficiary, err := s.GetBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return CalculationInput{}, err
	}

	year := now.Year()
	area, err := s.GetEffectiveArea(ctx, beneficiaryID, &year)
	if err != nil {
		return CalculationInput{}, fmt.Errorf("failed to load effective area: %w", err)
	}
	if area == nil {
		if area, err = s.GetEffectiveArea(ctx, beneficiaryID, nil); err != nil {
			return CalculationInput{}, fmt.Errorf("failed to load effective area: %w", err)
		}
	}

	rules, err := s.ListRules(ctx, programID)
	if err != nil {
		return CalculationInput{}, fmt.Errorf("failed to list rules: %w", err)
	}

	since := historySince(rules, now)
	history, err := s.ListRequests(ctx, RequestFilter{
		BeneficiaryID: beneficiaryID,
		ProgramID:     programID,
		Statuses:      ConsumingStatuses,
		Since:         &since,
	})
	if err != nil {
		return CalculationInput{}, fmt.Errorf("failed to list requests: %w", err)
	}

	return CalculationInput{
		Program:       *program,
		Beneficiary:   *beneficiary,
		Area:          area,
		ReferenceYear: year,
		Rules:         rules,
		Requested:     requested,
		History:       history,
		Now:           now,
	}, nil
}

// recheckGuard re-evaluates the matched rule against every other granted
// request, inside the caller's transaction: first the cool-down, then the
// remaining balance of the active period.
func recheckGuard(ctx context.Context, s Store, req BenefitRequest, now time.Time) error {
	if req.MatchedRuleID == nil {
		return nil
	}
	in, err := loadInput(ctx, s, req.BeneficiaryID, req.ProgramID, req.RequestedQuantity, now)
	if err != nil {
		return err
	}
	var rule *Rule
	for i := range in.Rules {
		if in.Rules[i].ID == *req.MatchedRuleID {
			rule = &in.Rules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}

	others := in.History[:0:0]
	for _, h := range in.History {
		if h.ID != req.ID {
			others = append(others, h)
		}
	}

	if a := CheckPeriodAllowance(*rule, others, now); !a.Allowed {
		return &AllowanceError{
			BeneficiaryID:    req.BeneficiaryID,
			ProgramID:        req.ProgramID,
			Reason:           a.Reason,
			NextEligibleDate: a.NextEligibleDate,
		}
	}

	area := decimal.Zero
	if in.Area != nil {
		area = in.Area.Net()
	}
	b := RemainingBalance(*rule, others, newAttributes(in.Beneficiary, area, req.RequestedQuantity), now)
	if b.Unlimited {
		return nil
	}
	need := req.Quantity()
	if b.Kind == LimitValue {
		need = req.Amount
	}
	if need.GreaterThan(b.Remaining) {
		return &AllowanceError{
			BeneficiaryID: req.BeneficiaryID,
			ProgramID:     req.ProgramID,
			Reason: fmt.Sprintf("request needs %s %s but only %s of %s remain in %s",
				need, b.Unit, b.Remaining, b.Ceiling, b.Window),
		}
	}
	return nil
}
