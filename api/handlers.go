/*
handlers.go - HTTP API handlers for the benefit engine

PURPOSE:
  Exposes the benefit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine and the catalog store.

ENDPOINTS:
  Programs:
    GET    /api/programs                      List programs
    POST   /api/programs                      Create or update a program
    GET    /api/programs/{id}                 Get program
    GET    /api/programs/{id}/rules           List rules in evaluation order
    POST   /api/programs/{id}/rules           Create or update a rule

  Beneficiaries:
    POST   /api/beneficiaries                 Create or update a beneficiary
    GET    /api/beneficiaries/{id}            Get beneficiary
    PUT    /api/beneficiaries/{id}/areas      Record effective area for a year
    GET    /api/beneficiaries/{id}/areas      Most recent (or ?year=) area

  Evaluation (read-only):
    POST   /api/beneficiaries/{id}/programs/{programID}/calculate
    GET    /api/beneficiaries/{id}/programs/{programID}/allowance
    GET    /api/beneficiaries/{id}/programs/{programID}/balance

  Requests:
    GET    /api/requests                      Filter by beneficiary/program/status
    POST   /api/requests                      Submit a request
    GET    /api/requests/{id}                 Get request
    POST   /api/requests/{id}/transitions     Move through the lifecycle
    GET    /api/requests/{id}/history         Audit trail

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, malformed rule
  - 404: Program, beneficiary, rule or request not found
  - 409: Illegal transition, periodicity guard denial
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers read and write outside the engine.
type Store interface {
	benefit.Store
	benefit.CatalogStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *benefit.Engine
	Store  Store
	Rules  *factory.RuleFactory
	log    zerolog.Logger
	now    func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *benefit.Engine, store Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Store:  store,
		Rules:  factory.NewRuleFactory(),
		log:    log,
		now:    time.Now,
	}
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Store.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}
	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProgram returns a single program.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProgram(r.Context(), benefit.ProgramID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Failed to get program", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(*p))
}

// CreateProgram creates or updates a program. Programs are deactivated
// with active=false, never deleted.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := benefit.Program{
		ID:        benefit.ProgramID(req.ID),
		Name:      req.Name,
		Category:  req.Category,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: h.now(),
	}
	if err := h.Store.SaveProgram(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save program", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramDTO(p))
}

// ListRules returns the program's rules in evaluation order, including
// rules that would be skipped as malformed.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	programID := benefit.ProgramID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetProgram(r.Context(), programID); err != nil {
		h.writeEngineError(w, "Failed to get program", err)
		return
	}
	rules, err := h.Store.ListRules(r.Context(), programID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.Rules.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule validates and saves a rule. New rules are appended to the end
// of the program's evaluation order.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rj.ProgramID = chi.URLParam(r, "id")

	rule, err := h.Rules.FromJSON(rj)
	if err == nil {
		err = rule.Validate()
	}
	if err != nil {
		h.writeEngineError(w, "Invalid rule", err)
		return
	}
	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		h.writeEngineError(w, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Rules.ToJSON(rule))
}

// =============================================================================
// BENEFICIARY HANDLERS
// =============================================================================

// CreateBeneficiary creates or updates a beneficiary.
func (h *Handler) CreateBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req CreateBeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	b := benefit.Beneficiary{
		ID:              benefit.BeneficiaryID(req.ID),
		Name:            req.Name,
		Document:        req.Document,
		Category:        req.Category,
		DeclaredRevenue: req.DeclaredRevenue,
		CreatedAt:       h.now(),
	}
	if err := h.Store.SaveBeneficiary(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save beneficiary", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBeneficiaryDTO(b))
}

// GetBeneficiary returns a single beneficiary.
func (h *Handler) GetBeneficiary(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.GetBeneficiary(r.Context(), benefit.BeneficiaryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Failed to get beneficiary", err)
		return
	}
	writeJSON(w, http.StatusOK, toBeneficiaryDTO(*b))
}

// SaveEffectiveArea records the area inputs for one reference year.
func (h *Handler) SaveEffectiveArea(w http.ResponseWriter, r *http.Request) {
	var req SaveEffectiveAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year <= 0 {
		writeError(w, http.StatusBadRequest, "year is required", nil)
		return
	}
	if req.Owned.IsNegative() || req.LeaseReceived.IsNegative() || req.LeaseCeded.IsNegative() {
		writeError(w, http.StatusBadRequest, "area components must not be negative", nil)
		return
	}
	unit := benefit.Unit(req.Unit)
	if unit == "" {
		unit = benefit.UnitAlqueire
	}

	a := benefit.EffectiveArea{
		BeneficiaryID: benefit.BeneficiaryID(chi.URLParam(r, "id")),
		Year:          req.Year,
		Owned:         req.Owned,
		LeaseReceived: req.LeaseReceived,
		LeaseCeded:    req.LeaseCeded,
		Unit:          unit,
	}
	if err := h.Store.SaveEffectiveArea(r.Context(), a); err != nil {
		h.writeEngineError(w, "Failed to save effective area", err)
		return
	}
	writeJSON(w, http.StatusOK, toEffectiveAreaDTO(a))
}

// GetEffectiveArea returns the area for ?year=, or the most recent one.
func (h *Handler) GetEffectiveArea(w http.ResponseWriter, r *http.Request) {
	id := benefit.BeneficiaryID(chi.URLParam(r, "id"))
	var year *int
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = &y
	}

	a, err := h.Store.GetEffectiveArea(r.Context(), id, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get effective area", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "No effective area registered", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEffectiveAreaDTO(*a))
}

// =============================================================================
// EVALUATION HANDLERS
// =============================================================================

// Calculate evaluates the program for the beneficiary. Nothing is written.
// POST /api/beneficiaries/{id}/programs/{programID}/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	res, err := h.Engine.CalculateBenefit(r.Context(),
		benefit.BeneficiaryID(chi.URLParam(r, "id")),
		benefit.ProgramID(chi.URLParam(r, "programID")),
		req.RequestedQuantity,
	)
	if err != nil {
		h.writeEngineError(w, "Failed to calculate benefit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(*res))
}

// GetAllowance returns the periodicity decision.
// GET /api/beneficiaries/{id}/programs/{programID}/allowance
func (h *Handler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.CheckAllowance(r.Context(),
		benefit.BeneficiaryID(chi.URLParam(r, "id")),
		benefit.ProgramID(chi.URLParam(r, "programID")),
	)
	if err != nil {
		h.writeEngineError(w, "Failed to check allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllowanceDTO(*a))
}

// GetBalance returns the remaining balance of the applicable rule.
// GET /api/beneficiaries/{id}/programs/{programID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetRemainingBalance(r.Context(),
		benefit.BeneficiaryID(chi.URLParam(r, "id")),
		benefit.ProgramID(chi.URLParam(r, "programID")),
	)
	if err != nil {
		h.writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// ListRequests filters requests by ?beneficiary_id, ?program_id and a
// comma-separated ?status.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := benefit.RequestFilter{
		BeneficiaryID: benefit.BeneficiaryID(q.Get("beneficiary_id")),
		ProgramID:     benefit.ProgramID(q.Get("program_id")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, ok := benefit.ParseStatus(strings.TrimSpace(s))
			if !ok {
				writeError(w, http.StatusBadRequest, "Unknown status "+s, nil)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	requests, err := h.Store.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}
	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitRequest creates a pending request with the computed amount.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RequestedQuantity != nil && req.RequestedQuantity.IsNegative() {
		writeError(w, http.StatusBadRequest, "requested_quantity must not be negative", nil)
		return
	}

	created, calc, err := h.Engine.SubmitRequest(r.Context(), benefit.Submission{
		BeneficiaryID:     benefit.BeneficiaryID(req.BeneficiaryID),
		ProgramID:         benefit.ProgramID(req.ProgramID),
		RequestedQuantity: req.RequestedQuantity,
		ActorID:           benefit.ActorID(req.ActorID),
		Notes:             req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{
		Request:     toRequestDTO(*created),
		Calculation: toCalculationDTO(*calc),
	})
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.GetRequest(r.Context(), benefit.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// TransitionRequest moves a request to a new status.
// POST /api/requests/{id}/transitions
func (h *Handler) TransitionRequest(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	to, ok := benefit.ParseStatus(req.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown status "+req.To, nil)
		return
	}

	updated, err := h.Engine.TransitionRequest(r.Context(),
		benefit.RequestID(chi.URLParam(r, "id")), to,
		benefit.ActorID(req.ActorID), req.Reason,
	)
	if err != nil {
		h.writeEngineError(w, "Failed to transition request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

// GetHistory returns the request's audit trail, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.RequestHistory(r.Context(), benefit.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Failed to get history", err)
		return
	}
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeEngineError maps engine errors to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	var denied *benefit.AllowanceError
	switch {
	case errors.As(err, &denied):
		resp := ErrorResponse{Error: message, Details: err.Error()}
		if denied.NextEligibleDate != nil {
			resp.NextEligibleDate = denied.NextEligibleDate.Format(time.DateOnly)
		}
		writeJSON(w, http.StatusConflict, resp)
	case benefit.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, benefit.ErrIllegalTransition), errors.Is(err, benefit.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, message, err)
	case benefit.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
