/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  The engine never reaches a database directly. It is handed a Store (or a
  TxStore when it must write) so tests can run against the in-memory
  implementation and production runs against SQLite.

KEY INTERFACES:
  Store:        Reads and writes the engine needs
  TxStore:      Store plus WithTx for atomic read-then-write units
  CatalogStore: Administrative writes (programs, rules, people, areas)

ATOMICITY:
  Request creation and every status transition run inside WithTx. The
  periodicity guard is re-checked inside the same transaction that writes
  the new row or status, so two concurrent submissions cannot both pass a
  guard computed earlier.

IMPLEMENTATIONS:
  - benefit/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go:  SQLite
*/
package benefit

import (
	"context"
	"time"
)

// RequestFilter selects requests for one beneficiary and program.
// Empty Statuses matches every status; nil Since matches every date.
type RequestFilter struct {
	BeneficiaryID BeneficiaryID
	ProgramID     ProgramID
	Statuses      []Status
	Since         *time.Time
}

// Matches applies the filter to a single request.
func (f RequestFilter) Matches(r BenefitRequest) bool {
	if f.BeneficiaryID != "" && r.BeneficiaryID != f.BeneficiaryID {
		return false
	}
	if f.ProgramID != "" && r.ProgramID != f.ProgramID {
		return false
	}
	if f.Since != nil && r.RequestedAt.Before(*f.Since) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

type Store interface {
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)
	GetBeneficiary(ctx context.Context, id BeneficiaryID) (*Beneficiary, error)

	// GetEffectiveArea returns the record for year, or the most recent
	// record when year is nil. Returns nil, nil when there is none.
	GetEffectiveArea(ctx context.Context, id BeneficiaryID, year *int) (*EffectiveArea, error)

	// ListRules returns the program's rules in creation order.
	ListRules(ctx context.Context, programID ProgramID) ([]Rule, error)

	ListRequests(ctx context.Context, filter RequestFilter) ([]BenefitRequest, error)
	GetRequest(ctx context.Context, id RequestID) (*BenefitRequest, error)
	CreateRequest(ctx context.Context, req BenefitRequest) error

	// UpdateRequestStatus sets the status. The caller appends the matching
	// history entry in the same transaction.
	UpdateRequestStatus(ctx context.Context, id RequestID, status Status, at time.Time) (*BenefitRequest, error)

	AppendHistory(ctx context.Context, entry StatusHistoryEntry) error
	ListHistory(ctx context.Context, requestID RequestID) ([]StatusHistoryEntry, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error nothing it wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CatalogStore holds the administrative writes. Rules keep their first
// insertion position when saved again.
type CatalogStore interface {
	SaveProgram(ctx context.Context, p Program) error
	ListPrograms(ctx context.Context) ([]Program, error)
	SaveRule(ctx context.Context, r Rule) error
	SaveBeneficiary(ctx context.Context, b Beneficiary) error
	SaveEffectiveArea(ctx context.Context, a EffectiveArea) error
}
