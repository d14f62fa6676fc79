/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Catalog administration (programs, rules, beneficiaries, areas)
- Read-only evaluation (calculate, allowance, balance)
- Request submission and lifecycle transitions, including error mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/store/sqlite"
)

var apiNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	store  *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := apiNow
	engine := benefit.NewEngine(store, benefit.WithClock(func() time.Time { return now }))
	h := NewHandler(engine, store, zerolog.Nop())
	return &testServer{
		router: NewRouter(h, RouterConfig{AllowedOrigins: []string{"*"}}),
		store:  store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates the limestone program, one AreaBased rule and a beneficiary
// with 4.5 alqueires, through the API.
func (s *testServer) seed(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/programs", map[string]any{"id": "limestone", "name": "Limestone"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/programs/limestone/rules", map[string]any{
		"id":         "small-farms",
		"kind":       "AreaBased",
		"unit_value": "150",
		"condition":  map[string]any{"comparator": "lessThan", "value": "6"},
		"limit":      map[string]any{"kind": "quantity", "ceiling": "3", "unit": "ton", "period": map[string]any{"months": 6}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/beneficiaries", map[string]any{"id": "ben-1", "name": "Jose", "category": "family_farmer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/beneficiaries/ben-1/areas", map[string]any{"year": 2024, "owned": "5", "lease_received": "1", "lease_ceded": "1.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestCatalogEndpoints(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	s.seed(t)

	// THEN: programs and rules read back
	programs := decode[[]ProgramDTO](t, s.do(t, http.MethodGet, "/api/programs", nil))
	require.Len(t, programs, 1)
	assert.True(t, programs[0].Active)

	rules := decode[[]map[string]any](t, s.do(t, http.MethodGet, "/api/programs/limestone/rules", nil))
	require.Len(t, rules, 1)
	assert.Equal(t, "small-farms", rules[0]["id"])
	assert.Equal(t, "AreaBased", rules[0]["kind"])

	area := decode[EffectiveAreaDTO](t, s.do(t, http.MethodGet, "/api/beneficiaries/ben-1/areas", nil))
	assert.Equal(t, "4.5", area.Net)
	assert.Equal(t, "alqueire", area.Unit)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/programs/seeds", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/beneficiaries/ben-9", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/beneficiaries/ben-1/areas?year=2020", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/beneficiaries/ben-1/areas?year=abc", nil).Code)
}

func TestCreateRule_RejectsMalformed(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown kind", map[string]any{"id": "r", "kind": "Hydroponic", "unit_value": "1", "condition": map[string]any{"comparator": "between"}}},
		{"missing operand", map[string]any{"id": "r", "kind": "AreaBased", "unit_value": "1", "condition": map[string]any{"comparator": "lessThan"}}},
		{"missing id", map[string]any{"kind": "AreaBased", "unit_value": "1", "condition": map[string]any{"comparator": "between"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/programs/limestone/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodPost, "/api/programs/seeds/rules", map[string]any{
		"id": "r", "kind": "AreaBased", "unit_value": "1", "condition": map[string]any{"comparator": "between"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculateEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/beneficiaries/ben-1/programs/limestone/calculate", map[string]any{"requested_quantity": "5"})

	// THEN: 3 tons x 150, capped
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc := decode[CalculationDTO](t, rec)
	assert.Equal(t, "450.00", calc.Amount)
	assert.True(t, calc.Capped)
	require.NotNil(t, calc.MatchedRuleID)
	assert.Equal(t, "small-farms", *calc.MatchedRuleID)
	assert.NotEmpty(t, calc.Warnings)

	// Without a quantity the rule still matches.
	rec = s.do(t, http.MethodPost, "/api/beneficiaries/ben-1/programs/limestone/calculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc = decode[CalculationDTO](t, rec)
	assert.Equal(t, "0.00", calc.Amount)
	assert.Equal(t, benefit.ReasonNeedsQuantity, calc.Reason)

	rec = s.do(t, http.MethodPost, "/api/beneficiaries/ben-1/programs/seeds/calculate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestLifecycleEndpoints(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	s.seed(t)

	// WHEN: submit
	rec := s.do(t, http.MethodPost, "/api/requests", map[string]any{
		"beneficiary_id": "ben-1", "program_id": "limestone", "requested_quantity": "2", "actor_id": "farmer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[SubmitResponse](t, rec)
	id := submitted.Request.ID
	assert.Equal(t, "pending", submitted.Request.Status)
	assert.Equal(t, "300.00", submitted.Request.Amount)
	assert.ElementsMatch(t, []string{"under_review", "approved", "rejected", "cancelled"}, submitted.Request.AllowedNext)

	// Illegal jump
	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/transitions", map[string]any{"to": "paid", "actor_id": "officer"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown status
	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/transitions", map[string]any{"to": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Legal path, camelCase accepted
	for _, to := range []string{"underReview", "approved", "paid"} {
		rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/transitions", map[string]any{"to": to, "actor_id": "officer"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	got := decode[RequestDTO](t, s.do(t, http.MethodGet, "/api/requests/"+id, nil))
	assert.Equal(t, "paid", got.Status)
	assert.Empty(t, got.AllowedNext)

	// THEN: creation plus three transitions
	history := decode[[]HistoryEntryDTO](t, s.do(t, http.MethodGet, "/api/requests/"+id+"/history", nil))
	require.Len(t, history, 4)
	assert.Nil(t, history[0].From)
	require.NotNil(t, history[3].From)
	assert.Equal(t, "approved", *history[3].From)
	assert.Equal(t, "paid", history[3].To)

	list := decode[[]RequestDTO](t, s.do(t, http.MethodGet, "/api/requests?beneficiary_id=ben-1&status=approved,paid", nil))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/requests/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/requests/missing/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/requests?status=archived", nil).Code)
}

func TestSubmitRequest_GuardDenialIsConflict(t *testing.T) {
	// GIVEN: a paid benefit
	s := newTestServer(t)
	s.seed(t)
	ctx := context.Background()
	rule := benefit.RuleID("small-farms")
	require.NoError(t, s.store.CreateRequest(ctx, benefit.BenefitRequest{
		ID: "req-old", BeneficiaryID: "ben-1", ProgramID: "limestone",
		RequestedQuantity: benefit.DecPtr("1"), Amount: benefit.Dec("150"), MatchedRuleID: &rule,
		Status: benefit.StatusPaid, RequestedAt: apiNow.AddDate(0, -2, 0), UpdatedAt: apiNow.AddDate(0, -2, 0),
	}))

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/requests", map[string]any{
		"beneficiary_id": "ben-1", "program_id": "limestone", "requested_quantity": "1",
	})

	// THEN
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "2024-10-01", resp.NextEligibleDate)

	allowance := decode[AllowanceDTO](t, s.do(t, http.MethodGet, "/api/beneficiaries/ben-1/programs/limestone/allowance", nil))
	assert.False(t, allowance.Allowed)
	require.NotNil(t, allowance.NextEligibleDate)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/beneficiaries/ben-1/programs/limestone/balance", nil))
	assert.Equal(t, "1", balance.Used)
	assert.Equal(t, "2", balance.Remaining)

	requests := decode[[]RequestDTO](t, s.do(t, http.MethodGet, "/api/requests?beneficiary_id=ben-1", nil))
	assert.Len(t, requests, 1)
}

func TestSubmitRequest_BadInput(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	rec := s.do(t, http.MethodPost, "/api/requests", map[string]any{"program_id": "limestone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/requests", map[string]any{
		"beneficiary_id": "ben-1", "program_id": "limestone", "requested_quantity": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}
