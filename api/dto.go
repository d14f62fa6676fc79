/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts are rendered as strings with two decimal places
  ("450.00"). Quantities and areas are rendered as exact decimal strings.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// CATALOG
// =============================================================================

type ProgramDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type CreateProgramRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Active   *bool  `json:"active"`
}

type BeneficiaryDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Document        string `json:"document,omitempty"`
	Category        string `json:"category,omitempty"`
	DeclaredRevenue string `json:"declared_revenue"`
	CreatedAt       string `json:"created_at"`
}

type CreateBeneficiaryRequest struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Document        string          `json:"document"`
	Category        string          `json:"category"`
	DeclaredRevenue decimal.Decimal `json:"declared_revenue"`
}

type EffectiveAreaDTO struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Year          int    `json:"year"`
	Owned         string `json:"owned"`
	LeaseReceived string `json:"lease_received"`
	LeaseCeded    string `json:"lease_ceded"`
	Net           string `json:"net"`
	Unit          string `json:"unit"`
}

type SaveEffectiveAreaRequest struct {
	Year          int             `json:"year"`
	Owned         decimal.Decimal `json:"owned"`
	LeaseReceived decimal.Decimal `json:"lease_received"`
	LeaseCeded    decimal.Decimal `json:"lease_ceded"`
	Unit          string          `json:"unit"`
}

// =============================================================================
// EVALUATION
// =============================================================================

type CalculateRequest struct {
	RequestedQuantity *decimal.Decimal `json:"requested_quantity"`
}

type AllowanceDTO struct {
	Allowed          bool    `json:"allowed"`
	Reason           string  `json:"reason"`
	NextEligibleDate *string `json:"next_eligible_date,omitempty"`
	WindowStart      *string `json:"window_start,omitempty"`
	WindowEnd        *string `json:"window_end,omitempty"`
	Occurrences      int     `json:"occurrences"`
}

type BalanceDTO struct {
	RuleID      *string `json:"rule_id,omitempty"`
	Kind        string  `json:"kind,omitempty"`
	Ceiling     string  `json:"ceiling"`
	Used        string  `json:"used"`
	Remaining   string  `json:"remaining"`
	Unit        string  `json:"unit,omitempty"`
	WindowStart string  `json:"window_start"`
	WindowEnd   string  `json:"window_end"`
	Unlimited   bool    `json:"unlimited"`
	Reason      string  `json:"reason,omitempty"`
}

type CalculationDTO struct {
	BeneficiaryID        string        `json:"beneficiary_id"`
	ProgramID            string        `json:"program_id"`
	MatchedRuleID        *string       `json:"matched_rule_id"`
	RuleKind             string        `json:"rule_kind,omitempty"`
	Eligible             bool          `json:"eligible"`
	Amount               string        `json:"amount"`
	Reason               string        `json:"reason"`
	Warnings             []string      `json:"warnings"`
	Breakdown            []string      `json:"breakdown"`
	RequiresManualReview bool          `json:"requires_manual_review"`
	Capped               bool          `json:"capped"`
	Allowance            *AllowanceDTO `json:"allowance,omitempty"`
	Balance              *BalanceDTO   `json:"balance,omitempty"`
	EvaluatedAt          string        `json:"evaluated_at"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitRequestRequest struct {
	BeneficiaryID     string           `json:"beneficiary_id"`
	ProgramID         string           `json:"program_id"`
	RequestedQuantity *decimal.Decimal `json:"requested_quantity"`
	ActorID           string           `json:"actor_id"`
	Notes             string           `json:"notes"`
}

type TransitionRequest struct {
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type RequestDTO struct {
	ID                string   `json:"id"`
	BeneficiaryID     string   `json:"beneficiary_id"`
	ProgramID         string   `json:"program_id"`
	RequestedQuantity *string  `json:"requested_quantity,omitempty"`
	GrantedQuantity   *string  `json:"granted_quantity,omitempty"`
	Amount            string   `json:"amount"`
	MatchedRuleID     *string  `json:"matched_rule_id"`
	Status            string   `json:"status"`
	AllowedNext       []string `json:"allowed_next"`
	Notes             string   `json:"notes,omitempty"`
	RequestedAt       string   `json:"requested_at"`
	UpdatedAt         string   `json:"updated_at"`
}

type SubmitResponse struct {
	Request     RequestDTO     `json:"request"`
	Calculation CalculationDTO `json:"calculation"`
}

type HistoryEntryDTO struct {
	ID      string  `json:"id"`
	From    *string `json:"from"`
	To      string  `json:"to"`
	ActorID string  `json:"actor_id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	At      string  `json:"at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error"`
	Details          string `json:"details,omitempty"`
	NextEligibleDate string `json:"next_eligible_date,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProgramDTO(p benefit.Program) ProgramDTO {
	return ProgramDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Category:  p.Category,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toBeneficiaryDTO(b benefit.Beneficiary) BeneficiaryDTO {
	return BeneficiaryDTO{
		ID:              string(b.ID),
		Name:            b.Name,
		Document:        b.Document,
		Category:        b.Category,
		DeclaredRevenue: money(b.DeclaredRevenue),
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
}

func toEffectiveAreaDTO(a benefit.EffectiveArea) EffectiveAreaDTO {
	return EffectiveAreaDTO{
		BeneficiaryID: string(a.BeneficiaryID),
		Year:          a.Year,
		Owned:         a.Owned.String(),
		LeaseReceived: a.LeaseReceived.String(),
		LeaseCeded:    a.LeaseCeded.String(),
		Net:           a.Net().String(),
		Unit:          string(a.Unit),
	}
}

func toAllowanceDTO(a benefit.Allowance) AllowanceDTO {
	dto := AllowanceDTO{
		Allowed:     a.Allowed,
		Reason:      a.Reason,
		Occurrences: a.Occurrences,
	}
	if a.NextEligibleDate != nil {
		dto.NextEligibleDate = strPtr(a.NextEligibleDate.Format(time.DateOnly))
	}
	if a.Window != nil {
		dto.WindowStart = strPtr(a.Window.Start.Format(time.DateOnly))
		dto.WindowEnd = strPtr(a.Window.End.Format(time.DateOnly))
	}
	return dto
}

func toBalanceDTO(b benefit.Balance) BalanceDTO {
	dto := BalanceDTO{
		Kind:        string(b.Kind),
		Ceiling:     b.Ceiling.String(),
		Used:        b.Used.String(),
		Remaining:   b.Remaining.String(),
		Unit:        string(b.Unit),
		WindowStart: b.Window.Start.Format(time.DateOnly),
		WindowEnd:   b.Window.End.Format(time.DateOnly),
		Unlimited:   b.Unlimited,
		Reason:      b.Reason,
	}
	if b.RuleID != nil {
		dto.RuleID = strPtr(string(*b.RuleID))
	}
	return dto
}

func toCalculationDTO(r benefit.CalculationResult) CalculationDTO {
	dto := CalculationDTO{
		BeneficiaryID:        string(r.BeneficiaryID),
		ProgramID:            string(r.ProgramID),
		RuleKind:             string(r.RuleKind),
		Eligible:             r.Eligible,
		Amount:               money(r.Amount),
		Reason:               r.Reason,
		Warnings:             r.Warnings,
		Breakdown:            r.Breakdown,
		RequiresManualReview: r.RequiresManualReview,
		Capped:               r.Capped,
		EvaluatedAt:          r.EvaluatedAt.Format(time.RFC3339),
	}
	if r.MatchedRuleID != nil {
		dto.MatchedRuleID = strPtr(string(*r.MatchedRuleID))
	}
	if r.Allowance != nil {
		a := toAllowanceDTO(*r.Allowance)
		dto.Allowance = &a
	}
	if r.Balance != nil {
		b := toBalanceDTO(*r.Balance)
		dto.Balance = &b
	}
	return dto
}

func toRequestDTO(r benefit.BenefitRequest) RequestDTO {
	next := benefit.AllowedTransitions(r.Status)
	allowed := make([]string, len(next))
	for i, s := range next {
		allowed[i] = string(s)
	}
	dto := RequestDTO{
		ID:            string(r.ID),
		BeneficiaryID: string(r.BeneficiaryID),
		ProgramID:     string(r.ProgramID),
		Amount:        money(r.Amount),
		Status:        string(r.Status),
		AllowedNext:   allowed,
		Notes:         r.Notes,
		RequestedAt:   r.RequestedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
	if r.RequestedQuantity != nil {
		dto.RequestedQuantity = strPtr(r.RequestedQuantity.String())
	}
	if r.GrantedQuantity != nil {
		dto.GrantedQuantity = strPtr(r.GrantedQuantity.String())
	}
	if r.MatchedRuleID != nil {
		dto.MatchedRuleID = strPtr(string(*r.MatchedRuleID))
	}
	return dto
}

func toHistoryDTO(e benefit.StatusHistoryEntry) HistoryEntryDTO {
	dto := HistoryEntryDTO{
		ID:      e.ID,
		To:      string(e.To),
		ActorID: string(e.ActorID),
		Reason:  e.Reason,
		At:      e.At.Format(time.RFC3339),
	}
	if e.From != nil {
		dto.From = strPtr(string(*e.From))
	}
	return dto
}

func money(d decimal.Decimal) string {
	return d.StringFixed(benefit.MoneyPlaces)
}

func strPtr(s string) *string {
	return &s
}
