package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefit-engine/benefit"
)

var t0 = time.Date(2024, 5, 1, 8, 30, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveProgram(ctx, benefit.Program{ID: "limestone", Name: "Limestone", Category: "soil", Active: true, CreatedAt: t0}))
	require.NoError(t, store.SaveBeneficiary(ctx, benefit.Beneficiary{
		ID: "ben-1", Name: "Jose", Category: "family_farmer", DeclaredRevenue: benefit.Dec("85000.50"), CreatedAt: t0,
	}))
	return store
}

func request(id benefit.RequestID, qty string, at time.Time) benefit.BenefitRequest {
	rule := benefit.RuleID("small-farms")
	return benefit.BenefitRequest{
		ID:                id,
		BeneficiaryID:     "ben-1",
		ProgramID:         "limestone",
		RequestedQuantity: benefit.DecPtr(qty),
		Amount:            benefit.Dec("450.00"),
		MatchedRuleID:     &rule,
		Status:            benefit.StatusPending,
		Notes:             "delivery",
		RequestedAt:       at,
		UpdatedAt:         at,
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	// GIVEN
	store := newTestStore(t)
	ctx := context.Background()

	// THEN: program and beneficiary read back with exact decimals
	p, err := store.GetProgram(ctx, "limestone")
	require.NoError(t, err)
	assert.Equal(t, "Limestone", p.Name)
	assert.True(t, p.Active)
	assert.True(t, p.CreatedAt.Equal(t0))

	b, err := store.GetBeneficiary(ctx, "ben-1")
	require.NoError(t, err)
	assert.Equal(t, "85000.5", b.DeclaredRevenue.String())

	_, err = store.GetProgram(ctx, "seeds")
	assert.ErrorIs(t, err, benefit.ErrProgramNotFound)
	_, err = store.GetBeneficiary(ctx, "ben-9")
	assert.ErrorIs(t, err, benefit.ErrBeneficiaryNotFound)
}

func TestSaveRule_RoundTripAndPosition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := benefit.Rule{
		ID:        "small-farms",
		ProgramID: "limestone",
		Name:      "Small farms",
		Condition: benefit.Condition{Comparator: benefit.Between, Max: benefit.DecPtr("6"), Unit: benefit.UnitAlqueire},
		Formula:   benefit.AreaBased{UnitValue: benefit.Dec("150")},
		Limit: &benefit.Limit{
			Kind: benefit.LimitQuantity, Ceiling: benefit.Dec("3"), Unit: benefit.UnitTon,
			Period: &benefit.Periodicity{Months: 6, MaxOccurrences: 2},
		},
	}
	second := benefit.Rule{
		ID:        "everyone",
		ProgramID: "limestone",
		Condition: benefit.Condition{Comparator: benefit.Between},
		Formula:   benefit.FixedUnitValue{UnitValue: benefit.Dec("80")},
	}
	require.NoError(t, store.SaveRule(ctx, first))
	require.NoError(t, store.SaveRule(ctx, second))

	// WHEN: the first rule is edited
	first.Formula = benefit.AreaBased{UnitValue: benefit.Dec("175.25")}
	require.NoError(t, store.SaveRule(ctx, first))

	// THEN: it keeps its place
	rules, err := store.ListRules(ctx, "limestone")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, benefit.RuleID("small-farms"), rules[0].ID)
	assert.Equal(t, 0, rules[0].Position)
	assert.Equal(t, benefit.RuleID("everyone"), rules[1].ID)
	assert.Equal(t, 1, rules[1].Position)

	got := rules[0]
	assert.Equal(t, benefit.KindAreaBased, got.Kind())
	assert.Equal(t, "175.25", got.Formula.Rate().String())
	require.NotNil(t, got.Condition.Max)
	assert.Equal(t, "6", got.Condition.Max.String())
	require.NotNil(t, got.Limit)
	require.NotNil(t, got.Limit.Period)
	assert.Equal(t, 6, got.Limit.Period.Months)
	assert.Equal(t, 2, got.Limit.Period.MaxOccurrences)
	assert.NoError(t, got.Validate())

	assert.ErrorIs(t, store.SaveRule(ctx, benefit.Rule{ID: "x", ProgramID: "seeds"}), benefit.ErrProgramNotFound)
}

func TestSaveRule_UnknownKindIsListedButInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRule(ctx, benefit.Rule{
		ID: "mystery", ProgramID: "limestone", RawKind: "Mystery",
		Condition: benefit.Condition{Comparator: benefit.Between},
	}))

	rules, err := store.ListRules(ctx, "limestone")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Nil(t, rules[0].Formula)
	assert.Equal(t, benefit.RuleKind("Mystery"), rules[0].Kind())
	assert.ErrorIs(t, rules[0].Validate(), benefit.ErrMalformedRule)
}

func TestEffectiveArea(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEffectiveArea(ctx, benefit.EffectiveArea{
		BeneficiaryID: "ben-1", Year: 2023, Owned: benefit.Dec("4"), Unit: benefit.UnitAlqueire,
	}))
	require.NoError(t, store.SaveEffectiveArea(ctx, benefit.EffectiveArea{
		BeneficiaryID: "ben-1", Year: 2024, Owned: benefit.Dec("5"), LeaseReceived: benefit.Dec("1"),
		LeaseCeded: benefit.Dec("1.5"), Unit: benefit.UnitAlqueire,
	}))

	year := 2023
	a, err := store.GetEffectiveArea(ctx, "ben-1", &year)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "4", a.Net().String())

	a, err = store.GetEffectiveArea(ctx, "ben-1", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 2024, a.Year)
	assert.Equal(t, "4.5", a.Net().String())

	missing := 2020
	a, err = store.GetEffectiveArea(ctx, "ben-1", &missing)
	require.NoError(t, err)
	assert.Nil(t, a)

	err = store.SaveEffectiveArea(ctx, benefit.EffectiveArea{BeneficiaryID: "ben-9", Year: 2024})
	assert.ErrorIs(t, err, benefit.ErrBeneficiaryNotFound)
}

func TestRequests_CreateAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRequest(ctx, request("req-1", "2", t0)))
	require.NoError(t, store.CreateRequest(ctx, request("req-2", "1", t0.AddDate(0, 2, 0))))
	require.NoError(t, store.CreateRequest(ctx, request("req-3", "3", t0.AddDate(0, 4, 0))))

	assert.ErrorIs(t, store.CreateRequest(ctx, request("req-1", "2", t0)), benefit.ErrDuplicateRequest)

	orphan := request("req-4", "1", t0)
	orphan.ProgramID = "seeds"
	assert.ErrorIs(t, store.CreateRequest(ctx, orphan), benefit.ErrInvalidInput)

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, got.RequestedAt.Equal(t0))
	assert.Equal(t, "2", got.Quantity().String())
	assert.Equal(t, "450", got.Amount.String())
	require.NotNil(t, got.MatchedRuleID)
	assert.Equal(t, benefit.RuleID("small-farms"), *got.MatchedRuleID)

	_, err = store.UpdateRequestStatus(ctx, "req-2", benefit.StatusApproved, t0.AddDate(0, 2, 1))
	require.NoError(t, err)

	since := t0.AddDate(0, 1, 0)
	list, err := store.ListRequests(ctx, benefit.RequestFilter{
		BeneficiaryID: "ben-1", ProgramID: "limestone", Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, benefit.RequestID("req-2"), list[0].ID)
	assert.Equal(t, benefit.RequestID("req-3"), list[1].ID)

	list, err = store.ListRequests(ctx, benefit.RequestFilter{Statuses: benefit.ConsumingStatuses})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, benefit.StatusApproved, list[0].Status)

	_, err = store.UpdateRequestStatus(ctx, "missing", benefit.StatusPaid, t0)
	assert.ErrorIs(t, err, benefit.ErrRequestNotFound)
	_, err = store.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, benefit.ErrRequestNotFound)
}

func TestHistory_OrderedAndLinked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRequest(ctx, request("req-1", "2", t0)))

	pending := benefit.StatusPending
	require.NoError(t, store.AppendHistory(ctx, benefit.StatusHistoryEntry{
		ID: "h-2", RequestID: "req-1", To: benefit.StatusPending, ActorID: "farmer", Reason: "request submitted", At: t0,
	}))
	require.NoError(t, store.AppendHistory(ctx, benefit.StatusHistoryEntry{
		ID: "h-1", RequestID: "req-1", From: &pending, To: benefit.StatusUnderReview, ActorID: "officer", At: t0.Add(time.Hour),
	}))

	history, err := store.ListHistory(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "h-2", history[0].ID)
	assert.Nil(t, history[0].From)
	assert.Equal(t, "h-1", history[1].ID)
	require.NotNil(t, history[1].From)
	assert.Equal(t, benefit.StatusPending, *history[1].From)
	assert.Equal(t, benefit.ActorID("officer"), history[1].ActorID)

	empty, err := store.ListHistory(ctx, "req-9")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	err = store.AppendHistory(ctx, benefit.StatusHistoryEntry{ID: "h-3", RequestID: "req-9", To: benefit.StatusPaid, At: t0})
	assert.ErrorIs(t, err, benefit.ErrRequestNotFound)
}

func TestWithTx_RollbackAndCommit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: a transaction fails after writing
	err := store.WithTx(ctx, func(s benefit.Store) error {
		if err := s.CreateRequest(ctx, request("req-1", "1", t0)); err != nil {
			return err
		}
		return boom
	})

	// THEN
	assert.ErrorIs(t, err, boom)
	_, err = store.GetRequest(ctx, "req-1")
	assert.ErrorIs(t, err, benefit.ErrRequestNotFound)

	// WHEN: a transaction reads its own writes and commits
	err = store.WithTx(ctx, func(s benefit.Store) error {
		if err := s.CreateRequest(ctx, request("req-2", "1", t0)); err != nil {
			return err
		}
		got, err := s.GetRequest(ctx, "req-2")
		if err != nil {
			return err
		}
		return s.AppendHistory(ctx, benefit.StatusHistoryEntry{ID: "h-1", RequestID: got.ID, To: benefit.StatusPending, At: t0})
	})

	// THEN
	require.NoError(t, err)
	history, err := store.ListHistory(ctx, "req-2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEngineOnSQLite(t *testing.T) {
	// GIVEN: the engine over the SQLite store
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEffectiveArea(ctx, benefit.EffectiveArea{
		BeneficiaryID: "ben-1", Year: 2024, Owned: benefit.Dec("4.5"), Unit: benefit.UnitAlqueire,
	}))
	require.NoError(t, store.SaveRule(ctx, benefit.Rule{
		ID:        "small-farms",
		ProgramID: "limestone",
		Condition: benefit.Condition{Comparator: benefit.LessThan, Value: benefit.DecPtr("6")},
		Formula:   benefit.AreaBased{UnitValue: benefit.Dec("150")},
		Limit:     &benefit.Limit{Kind: benefit.LimitQuantity, Ceiling: benefit.Dec("3"), Period: &benefit.Periodicity{Months: 6}},
	}))
	now := t0
	engine := benefit.NewEngine(store, benefit.WithClock(func() time.Time { return now }))

	// WHEN
	req, _, err := engine.SubmitRequest(ctx, benefit.Submission{
		BeneficiaryID: "ben-1", ProgramID: "limestone", RequestedQuantity: benefit.DecPtr("5"), ActorID: "farmer",
	})
	require.NoError(t, err)
	for _, to := range []benefit.Status{benefit.StatusUnderReview, benefit.StatusApproved, benefit.StatusPaid} {
		_, err := engine.TransitionRequest(ctx, req.ID, to, "officer", "")
		require.NoError(t, err)
	}

	// THEN
	assert.Equal(t, "450.00", req.Amount.StringFixed(2))
	history, err := engine.RequestHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	now = t0.AddDate(0, 1, 0)
	_, _, err = engine.SubmitRequest(ctx, benefit.Submission{
		BeneficiaryID: "ben-1", ProgramID: "limestone", RequestedQuantity: benefit.DecPtr("1"),
	})
	assert.ErrorIs(t, err, benefit.ErrNotAllowed)
}

func TestEngineOnSQLite_ConcurrentApprovals(t *testing.T) {
	// GIVEN: two pending requests under a 6-month cool-down
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEffectiveArea(ctx, benefit.EffectiveArea{
		BeneficiaryID: "ben-1", Year: 2024, Owned: benefit.Dec("4.5"), Unit: benefit.UnitAlqueire,
	}))
	require.NoError(t, store.SaveRule(ctx, benefit.Rule{
		ID:        "small-farms",
		ProgramID: "limestone",
		Condition: benefit.Condition{Comparator: benefit.LessThan, Value: benefit.DecPtr("6")},
		Formula:   benefit.AreaBased{UnitValue: benefit.Dec("150")},
		Limit:     &benefit.Limit{Kind: benefit.LimitQuantity, Ceiling: benefit.Dec("3"), Period: &benefit.Periodicity{Months: 6}},
	}))
	engine := benefit.NewEngine(store, benefit.WithClock(func() time.Time { return t0 }))

	var ids []benefit.RequestID
	for range 2 {
		req, _, err := engine.SubmitRequest(ctx, benefit.Submission{
			BeneficiaryID: "ben-1", ProgramID: "limestone", RequestedQuantity: benefit.DecPtr("1"),
		})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	// WHEN: both are approved at once
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.TransitionRequest(ctx, id, benefit.StatusApproved, "officer", "")
		}()
	}
	wg.Wait()

	// THEN: exactly one gets through the guard
	var approved, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, benefit.ErrNotAllowed):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, denied)

	granted, err := store.ListRequests(ctx, benefit.RequestFilter{Statuses: benefit.ConsumingStatuses})
	require.NoError(t, err)
	assert.Len(t, granted, 1)
}

func TestRequests_GrantedQuantityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	req := request("req-1", "5", t0)
	req.GrantedQuantity = benefit.DecPtr("3")
	require.NoError(t, store.CreateRequest(ctx, req))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got.GrantedQuantity)
	assert.Equal(t, "5", got.RequestedQuantity.String())
	assert.Equal(t, "3", got.Quantity().String())
}

func TestRequests_CorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: a request whose requested_at column was damaged
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRequest(ctx, request("req-1", "1", t0)))
	_, err := store.db.ExecContext(ctx, "UPDATE requests SET requested_at = 'yesterday' WHERE id = ?", "req-1")
	require.NoError(t, err)

	// WHEN
	_, err = store.GetRequest(ctx, "req-1")

	// THEN
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid requested_at for request req-1")

	_, err = store.ListRequests(ctx, benefit.RequestFilter{BeneficiaryID: "ben-1"})
	assert.Error(t, err)
}
