// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements benefit.TxStore and benefit.CatalogStore.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	programs      map[benefit.ProgramID]benefit.Program
	programOrder  []benefit.ProgramID
	beneficiaries map[benefit.BeneficiaryID]benefit.Beneficiary
	areas         map[benefit.BeneficiaryID]map[int]benefit.EffectiveArea
	rules         map[benefit.ProgramID][]benefit.Rule
	requests      map[benefit.RequestID]benefit.BenefitRequest
	requestOrder  []benefit.RequestID
	history       map[benefit.RequestID][]benefit.StatusHistoryEntry
}

func newState() *state {
	return &state{
		programs:      make(map[benefit.ProgramID]benefit.Program),
		beneficiaries: make(map[benefit.BeneficiaryID]benefit.Beneficiary),
		areas:         make(map[benefit.BeneficiaryID]map[int]benefit.EffectiveArea),
		rules:         make(map[benefit.ProgramID][]benefit.Rule),
		requests:      make(map[benefit.RequestID]benefit.BenefitRequest),
		history:       make(map[benefit.RequestID][]benefit.StatusHistoryEntry),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions serialize.
func (m *Memory) WithTx(_ context.Context, fn func(benefit.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// clone copies every map and slice; stored values are plain structs whose
// pointer fields are never mutated in place.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.programs {
		c.programs[k] = v
	}
	c.programOrder = append([]benefit.ProgramID(nil), s.programOrder...)
	for k, v := range s.beneficiaries {
		c.beneficiaries[k] = v
	}
	for k, years := range s.areas {
		cy := make(map[int]benefit.EffectiveArea, len(years))
		for y, a := range years {
			cy[y] = a
		}
		c.areas[k] = cy
	}
	for k, v := range s.rules {
		c.rules[k] = append([]benefit.Rule(nil), v...)
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.requestOrder = append([]benefit.RequestID(nil), s.requestOrder...)
	for k, v := range s.history {
		c.history[k] = append([]benefit.StatusHistoryEntry(nil), v...)
	}
	return c
}

// =============================================================================
// STORE (locked entry points)
// =============================================================================

func (m *Memory) GetProgram(_ context.Context, id benefit.ProgramID) (*benefit.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProgram(id)
}

func (m *Memory) GetBeneficiary(_ context.Context, id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getBeneficiary(id)
}

func (m *Memory) GetEffectiveArea(_ context.Context, id benefit.BeneficiaryID, year *int) (*benefit.EffectiveArea, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getEffectiveArea(id, year), nil
}

func (m *Memory) ListRules(_ context.Context, programID benefit.ProgramID) ([]benefit.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRules(programID), nil
}

func (m *Memory) ListRequests(_ context.Context, filter benefit.RequestFilter) ([]benefit.BenefitRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRequests(filter), nil
}

func (m *Memory) GetRequest(_ context.Context, id benefit.RequestID) (*benefit.BenefitRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getRequest(id)
}

func (m *Memory) CreateRequest(_ context.Context, req benefit.BenefitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createRequest(req)
}

func (m *Memory) UpdateRequestStatus(_ context.Context, id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateRequestStatus(id, status, at)
}

func (m *Memory) AppendHistory(_ context.Context, entry benefit.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendHistory(entry)
}

func (m *Memory) ListHistory(_ context.Context, requestID benefit.RequestID) ([]benefit.StatusHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listHistory(requestID), nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveProgram(_ context.Context, p benefit.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.programs[p.ID]; !ok {
		m.st.programOrder = append(m.st.programOrder, p.ID)
	}
	m.st.programs[p.ID] = p
	return nil
}

func (m *Memory) ListPrograms(_ context.Context) ([]benefit.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]benefit.Program, 0, len(m.st.programOrder))
	for _, id := range m.st.programOrder {
		out = append(out, m.st.programs[id])
	}
	return out, nil
}

// SaveRule inserts or replaces a rule. A replaced rule keeps its position.
func (m *Memory) SaveRule(_ context.Context, r benefit.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.programs[r.ProgramID]; !ok {
		return benefit.ErrProgramNotFound
	}
	rules := m.st.rules[r.ProgramID]
	for i := range rules {
		if rules[i].ID == r.ID {
			r.Position = rules[i].Position
			rules[i] = r
			return nil
		}
	}
	r.Position = len(rules)
	m.st.rules[r.ProgramID] = append(rules, r)
	return nil
}

func (m *Memory) SaveBeneficiary(_ context.Context, b benefit.Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.beneficiaries[b.ID] = b
	return nil
}

func (m *Memory) SaveEffectiveArea(_ context.Context, a benefit.EffectiveArea) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.beneficiaries[a.BeneficiaryID]; !ok {
		return benefit.ErrBeneficiaryNotFound
	}
	years := m.st.areas[a.BeneficiaryID]
	if years == nil {
		years = make(map[int]benefit.EffectiveArea)
		m.st.areas[a.BeneficiaryID] = years
	}
	years[a.Year] = a
	return nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) getProgram(id benefit.ProgramID) (*benefit.Program, error) {
	p, ok := s.programs[id]
	if !ok {
		return nil, benefit.ErrProgramNotFound
	}
	return &p, nil
}

func (s *state) getBeneficiary(id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	b, ok := s.beneficiaries[id]
	if !ok {
		return nil, benefit.ErrBeneficiaryNotFound
	}
	return &b, nil
}

func (s *state) getEffectiveArea(id benefit.BeneficiaryID, year *int) *benefit.EffectiveArea {
	years := s.areas[id]
	if year != nil {
		a, ok := years[*year]
		if !ok {
			return nil
		}
		return &a
	}
	var latest *benefit.EffectiveArea
	for _, a := range years {
		if latest == nil || a.Year > latest.Year {
			a := a
			latest = &a
		}
	}
	return latest
}

func (s *state) listRules(programID benefit.ProgramID) []benefit.Rule {
	out := append([]benefit.Rule(nil), s.rules[programID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *state) listRequests(filter benefit.RequestFilter) []benefit.BenefitRequest {
	var out []benefit.BenefitRequest
	for _, id := range s.requestOrder {
		if r := s.requests[id]; filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *state) getRequest(id benefit.RequestID) (*benefit.BenefitRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, benefit.ErrRequestNotFound
	}
	return &r, nil
}

func (s *state) createRequest(req benefit.BenefitRequest) error {
	if _, ok := s.programs[req.ProgramID]; !ok {
		return benefit.ErrProgramNotFound
	}
	if _, ok := s.beneficiaries[req.BeneficiaryID]; !ok {
		return benefit.ErrBeneficiaryNotFound
	}
	if _, ok := s.requests[req.ID]; ok {
		return benefit.ErrDuplicateRequest
	}
	s.requests[req.ID] = req
	s.requestOrder = append(s.requestOrder, req.ID)
	return nil
}

func (s *state) updateRequestStatus(id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, benefit.ErrRequestNotFound
	}
	r.Status = status
	r.UpdatedAt = at
	s.requests[id] = r
	return &r, nil
}

func (s *state) appendHistory(entry benefit.StatusHistoryEntry) error {
	if _, ok := s.requests[entry.RequestID]; !ok {
		return benefit.ErrRequestNotFound
	}
	s.history[entry.RequestID] = append(s.history[entry.RequestID], entry)
	return nil
}

func (s *state) listHistory(id benefit.RequestID) []benefit.StatusHistoryEntry {
	return append([]benefit.StatusHistoryEntry{}, s.history[id]...)
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on the state while WithTx holds the write lock.
type txView struct {
	st *state
}

func (v *txView) GetProgram(_ context.Context, id benefit.ProgramID) (*benefit.Program, error) {
	return v.st.getProgram(id)
}

func (v *txView) GetBeneficiary(_ context.Context, id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	return v.st.getBeneficiary(id)
}

func (v *txView) GetEffectiveArea(_ context.Context, id benefit.BeneficiaryID, year *int) (*benefit.EffectiveArea, error) {
	return v.st.getEffectiveArea(id, year), nil
}

func (v *txView) ListRules(_ context.Context, programID benefit.ProgramID) ([]benefit.Rule, error) {
	return v.st.listRules(programID), nil
}

func (v *txView) ListRequests(_ context.Context, filter benefit.RequestFilter) ([]benefit.BenefitRequest, error) {
	return v.st.listRequests(filter), nil
}

func (v *txView) GetRequest(_ context.Context, id benefit.RequestID) (*benefit.BenefitRequest, error) {
	return v.st.getRequest(id)
}

func (v *txView) CreateRequest(_ context.Context, req benefit.BenefitRequest) error {
	return v.st.createRequest(req)
}

func (v *txView) UpdateRequestStatus(_ context.Context, id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	return v.st.updateRequestStatus(id, status, at)
}

func (v *txView) AppendHistory(_ context.Context, entry benefit.StatusHistoryEntry) error {
	return v.st.appendHistory(entry)
}

func (v *txView) ListHistory(_ context.Context, id benefit.RequestID) ([]benefit.StatusHistoryEntry, error) {
	return v.st.listHistory(id), nil
}

var (
	_ benefit.TxStore      = (*Memory)(nil)
	_ benefit.CatalogStore = (*Memory)(nil)
)
