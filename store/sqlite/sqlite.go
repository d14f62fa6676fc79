/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements benefit.TxStore and benefit.CatalogStore using SQLite. In
  production the same patterns apply to PostgreSQL with minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  benefit.Store:        Catalog reads, request ledger, status history
  benefit.TxStore:      WithTx for atomic submit / transition
  benefit.CatalogStore: Programs, rules, beneficiaries, effective areas

APPEND-ONLY ENFORCEMENT:
  - status_history has no UPDATE or DELETE statements
  - requests are never deleted; only status and updated_at change

KEY TABLES:
  programs:        Subsidy programs (soft-deactivated via active flag)
  rules:           Rule documents (config_json), ordered by position
  beneficiaries:   Producers
  effective_areas: Area inputs per beneficiary and reference year
  requests:        Benefit request ledger
  status_history:  Immutable audit trail of transitions

DECIMALS & TIMES:
  Decimals are stored as TEXT to keep exact precision. Times are stored in
  UTC with a fixed-width layout so string comparison orders them.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction so guard re-checks and the writes they protect cannot
  interleave with another writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/benefits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := benefit.NewEngine(store)

SEE ALSO:
  - benefit/store.go: Interface definitions
  - benefit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/factory"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Rules keep their first insertion position on update
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id),
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_program_position
		ON rules(program_id, position);

	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		document TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		declared_revenue TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS effective_areas (
		beneficiary_id TEXT NOT NULL REFERENCES beneficiaries(id),
		year INTEGER NOT NULL,
		owned TEXT NOT NULL,
		lease_received TEXT NOT NULL,
		lease_ceded TEXT NOT NULL,
		unit TEXT NOT NULL,
		PRIMARY KEY (beneficiary_id, year)
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		beneficiary_id TEXT NOT NULL REFERENCES beneficiaries(id),
		program_id TEXT NOT NULL REFERENCES programs(id),
		requested_quantity TEXT,
		granted_quantity TEXT,
		amount TEXT NOT NULL,
		matched_rule_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		requested_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Guard and balance lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_requests_beneficiary_program_date
		ON requests(beneficiary_id, program_id, requested_at);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS status_history (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		request_id TEXT NOT NULL REFERENCES requests(id),
		from_status TEXT,
		to_status TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_history_request
		ON status_history(request_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (benefit.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store benefit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query on the open transaction. The parent's lock is
// already held by WithTx.
type txStore struct {
	q querier
}

func (ts *txStore) GetProgram(ctx context.Context, id benefit.ProgramID) (*benefit.Program, error) {
	return getProgram(ctx, ts.q, id)
}

func (ts *txStore) GetBeneficiary(ctx context.Context, id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	return getBeneficiary(ctx, ts.q, id)
}

func (ts *txStore) GetEffectiveArea(ctx context.Context, id benefit.BeneficiaryID, year *int) (*benefit.EffectiveArea, error) {
	return getEffectiveArea(ctx, ts.q, id, year)
}

func (ts *txStore) ListRules(ctx context.Context, programID benefit.ProgramID) ([]benefit.Rule, error) {
	return listRules(ctx, ts.q, programID)
}

func (ts *txStore) ListRequests(ctx context.Context, filter benefit.RequestFilter) ([]benefit.BenefitRequest, error) {
	return listRequests(ctx, ts.q, filter)
}

func (ts *txStore) GetRequest(ctx context.Context, id benefit.RequestID) (*benefit.BenefitRequest, error) {
	return getRequest(ctx, ts.q, id)
}

func (ts *txStore) CreateRequest(ctx context.Context, req benefit.BenefitRequest) error {
	return createRequest(ctx, ts.q, req)
}

func (ts *txStore) UpdateRequestStatus(ctx context.Context, id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	return updateRequestStatus(ctx, ts.q, id, status, at)
}

func (ts *txStore) AppendHistory(ctx context.Context, entry benefit.StatusHistoryEntry) error {
	return appendHistory(ctx, ts.q, entry)
}

func (ts *txStore) ListHistory(ctx context.Context, id benefit.RequestID) ([]benefit.StatusHistoryEntry, error) {
	return listHistory(ctx, ts.q, id)
}

// =============================================================================
// STORE (benefit.Store interface)
// =============================================================================

func (s *Store) GetProgram(ctx context.Context, id benefit.ProgramID) (*benefit.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProgram(ctx, s.db, id)
}

func (s *Store) GetBeneficiary(ctx context.Context, id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBeneficiary(ctx, s.db, id)
}

func (s *Store) GetEffectiveArea(ctx context.Context, id benefit.BeneficiaryID, year *int) (*benefit.EffectiveArea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEffectiveArea(ctx, s.db, id, year)
}

func (s *Store) ListRules(ctx context.Context, programID benefit.ProgramID) ([]benefit.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRules(ctx, s.db, programID)
}

func (s *Store) ListRequests(ctx context.Context, filter benefit.RequestFilter) ([]benefit.BenefitRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, filter)
}

func (s *Store) GetRequest(ctx context.Context, id benefit.RequestID) (*benefit.BenefitRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func (s *Store) CreateRequest(ctx context.Context, req benefit.BenefitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, req)
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRequestStatus(ctx, s.db, id, status, at)
}

func (s *Store) AppendHistory(ctx context.Context, entry benefit.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, entry)
}

func (s *Store) ListHistory(ctx context.Context, id benefit.RequestID) ([]benefit.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHistory(ctx, s.db, id)
}

// =============================================================================
// CATALOG STORE (benefit.CatalogStore interface)
// =============================================================================

// SaveProgram inserts or updates a program.
func (s *Store) SaveProgram(ctx context.Context, p benefit.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO programs (id, name, category, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Category, p.Active, formatTime(createdAt(p.CreatedAt)))
	return err
}

// ListPrograms returns all programs in creation order.
func (s *Store) ListPrograms(ctx context.Context) ([]benefit.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, category, active, created_at FROM programs ORDER BY rowid",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []benefit.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	return programs, rows.Err()
}

// SaveRule inserts or updates a rule. An update keeps the rule's position.
func (s *Store) SaveRule(ctx context.Context, r benefit.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getProgram(ctx, s.db, r.ProgramID); err != nil {
		return err
	}
	config, err := factory.EncodeRule(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	query := `
		INSERT INTO rules (id, program_id, position, kind, config_json, version, created_at, updated_at)
		VALUES (?, ?, (SELECT COUNT(*) FROM rules WHERE program_id = ?), ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			config_json = excluded.config_json,
			version = rules.version + 1,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.ProgramID, r.ProgramID, string(r.Kind()), string(config), now, now,
	)
	return err
}

// SaveBeneficiary inserts or updates a beneficiary.
func (s *Store) SaveBeneficiary(ctx context.Context, b benefit.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO beneficiaries (id, name, document, category, declared_revenue, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			category = excluded.category,
			declared_revenue = excluded.declared_revenue
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Name, b.Document, b.Category, b.DeclaredRevenue.String(), formatTime(createdAt(b.CreatedAt)),
	)
	return err
}

// SaveEffectiveArea inserts or replaces the record for a beneficiary and year.
func (s *Store) SaveEffectiveArea(ctx context.Context, a benefit.EffectiveArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getBeneficiary(ctx, s.db, a.BeneficiaryID); err != nil {
		return err
	}
	query := `
		INSERT INTO effective_areas (beneficiary_id, year, owned, lease_received, lease_ceded, unit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(beneficiary_id, year) DO UPDATE SET
			owned = excluded.owned,
			lease_received = excluded.lease_received,
			lease_ceded = excluded.lease_ceded,
			unit = excluded.unit
	`
	_, err := s.db.ExecContext(ctx, query,
		a.BeneficiaryID, a.Year, a.Owned.String(), a.LeaseReceived.String(), a.LeaseCeded.String(), string(a.Unit),
	)
	return err
}

// =============================================================================
// QUERIES (shared by Store and txStore)
// =============================================================================

func getProgram(ctx context.Context, q querier, id benefit.ProgramID) (*benefit.Program, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, category, active, created_at FROM programs WHERE id = ?", id,
	)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, benefit.ErrProgramNotFound
	}
	return p, err
}

func getBeneficiary(ctx context.Context, q querier, id benefit.BeneficiaryID) (*benefit.Beneficiary, error) {
	var (
		b                  benefit.Beneficiary
		revenue, createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, document, category, declared_revenue, created_at FROM beneficiaries WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &b.Document, &b.Category, &revenue, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, benefit.ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.DeclaredRevenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, fmt.Errorf("invalid declared_revenue for %s: %w", id, err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for beneficiary %s: %w", id, err)
	}
	return &b, nil
}

func getEffectiveArea(ctx context.Context, q querier, id benefit.BeneficiaryID, year *int) (*benefit.EffectiveArea, error) {
	query := "SELECT beneficiary_id, year, owned, lease_received, lease_ceded, unit FROM effective_areas WHERE beneficiary_id = ?"
	args := []any{id}
	if year != nil {
		query += " AND year = ?"
		args = append(args, *year)
	}
	query += " ORDER BY year DESC LIMIT 1"

	var (
		a                     benefit.EffectiveArea
		owned, recv, ceded, u string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&a.BeneficiaryID, &a.Year, &owned, &recv, &ceded, &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Unit = benefit.Unit(u)
	if a.Owned, err = decimal.NewFromString(owned); err != nil {
		return nil, fmt.Errorf("invalid owned area: %w", err)
	}
	if a.LeaseReceived, err = decimal.NewFromString(recv); err != nil {
		return nil, fmt.Errorf("invalid lease_received area: %w", err)
	}
	if a.LeaseCeded, err = decimal.NewFromString(ceded); err != nil {
		return nil, fmt.Errorf("invalid lease_ceded area: %w", err)
	}
	return &a, nil
}

// listRules decodes each stored document. Decoding is lenient, so a rule
// with an unknown kind comes back with a nil formula and the calculator
// skips it.
func listRules(ctx context.Context, q querier, programID benefit.ProgramID) ([]benefit.Rule, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, position, config_json FROM rules WHERE program_id = ? ORDER BY position, rowid", programID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []benefit.Rule
	for rows.Next() {
		var (
			id       string
			position int
			config   string
		)
		if err := rows.Scan(&id, &position, &config); err != nil {
			return nil, err
		}
		rule, err := factory.DecodeRule([]byte(config))
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", id, err)
		}
		rule.ID = benefit.RuleID(id)
		rule.ProgramID = programID
		rule.Position = position
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

const requestColumns = `id, beneficiary_id, program_id, requested_quantity, granted_quantity, amount,
	matched_rule_id, status, notes, requested_at, updated_at`

func listRequests(ctx context.Context, q querier, filter benefit.RequestFilter) ([]benefit.BenefitRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.BeneficiaryID != "" {
		where = append(where, "beneficiary_id = ?")
		args = append(args, filter.BeneficiaryID)
	}
	if filter.ProgramID != "" {
		where = append(where, "program_id = ?")
		args = append(args, filter.ProgramID)
	}
	if filter.Since != nil {
		where = append(where, "requested_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + requestColumns + " FROM requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []benefit.BenefitRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func getRequest(ctx context.Context, q querier, id benefit.RequestID) (*benefit.BenefitRequest, error) {
	row := q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, benefit.ErrRequestNotFound
	}
	return r, err
}

func createRequest(ctx context.Context, q querier, r benefit.BenefitRequest) error {
	var quantity, granted sql.NullString
	if r.RequestedQuantity != nil {
		quantity = nullString(r.RequestedQuantity.String())
	}
	if r.GrantedQuantity != nil {
		granted = nullString(r.GrantedQuantity.String())
	}
	var ruleID sql.NullString
	if r.MatchedRuleID != nil {
		ruleID = nullString(string(*r.MatchedRuleID))
	}

	query := `
		INSERT INTO requests
		(id, seq, beneficiary_id, program_id, requested_quantity, granted_quantity, amount,
		 matched_rule_id, status, notes, requested_at, updated_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM requests), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		r.ID, r.BeneficiaryID, r.ProgramID, quantity, granted, r.Amount.String(),
		ruleID, string(r.Status), r.Notes, formatTime(r.RequestedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return benefit.ErrDuplicateRequest
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: unknown beneficiary or program", benefit.ErrInvalidInput)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func updateRequestStatus(ctx context.Context, q querier, id benefit.RequestID, status benefit.Status, at time.Time) (*benefit.BenefitRequest, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE requests SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(at), id,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, benefit.ErrRequestNotFound
	}
	return getRequest(ctx, q, id)
}

func appendHistory(ctx context.Context, q querier, e benefit.StatusHistoryEntry) error {
	var from sql.NullString
	if e.From != nil {
		from = nullString(string(*e.From))
	}
	query := `
		INSERT INTO status_history (id, seq, request_id, from_status, to_status, actor_id, reason, at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM status_history), ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.RequestID, from, string(e.To), string(e.ActorID), e.Reason, formatTime(e.At),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return benefit.ErrRequestNotFound
		}
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func listHistory(ctx context.Context, q querier, id benefit.RequestID) ([]benefit.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, request_id, from_status, to_status, actor_id, reason, at FROM status_history WHERE request_id = ? ORDER BY seq",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []benefit.StatusHistoryEntry{}
	for rows.Next() {
		var (
			e                benefit.StatusHistoryEntry
			from             sql.NullString
			to, at           string
			actor, requestID string
		)
		if err := rows.Scan(&e.ID, &requestID, &from, &to, &actor, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.RequestID = benefit.RequestID(requestID)
		if from.Valid {
			f := benefit.Status(from.String)
			e.From = &f
		}
		e.To = benefit.Status(to)
		e.ActorID = benefit.ActorID(actor)
		when, err := parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp for history entry %s: %w", e.ID, err)
		}
		e.At = when
		history = append(history, e)
	}
	return history, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(row scanner) (*benefit.Program, error) {
	var (
		p         benefit.Program
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Active, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for program %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanRequest(row scanner) (*benefit.BenefitRequest, error) {
	var (
		r                      benefit.BenefitRequest
		quantity, granted      sql.NullString
		ruleID                 sql.NullString
		amount, status         string
		requestedAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.BeneficiaryID, &r.ProgramID, &quantity, &granted, &amount,
		&ruleID, &status, &r.Notes, &requestedAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount for request %s: %w", r.ID, err)
	}
	if quantity.Valid {
		qty, err := decimal.NewFromString(quantity.String)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity for request %s: %w", r.ID, err)
		}
		r.RequestedQuantity = &qty
	}
	if granted.Valid {
		qty, err := decimal.NewFromString(granted.String)
		if err != nil {
			return nil, fmt.Errorf("invalid granted quantity for request %s: %w", r.ID, err)
		}
		r.GrantedQuantity = &qty
	}
	if ruleID.Valid {
		id := benefit.RuleID(ruleID.String)
		r.MatchedRuleID = &id
	}
	r.Status = benefit.Status(status)
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("invalid requested_at for request %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at for request %s: %w", r.ID, err)
	}
	return &r, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads the fixed-width layout written by formatTime, falling back
// to RFC 3339 for rows written by hand.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var (
	_ benefit.TxStore      = (*Store)(nil)
	_ benefit.CatalogStore = (*Store)(nil)
)
