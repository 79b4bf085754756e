/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Durable persistence for the journal (ledger.Store), statements and account
  records. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The journal store enforces append-only semantics:
  - No UPDATE statements on the journal table
  - No DELETE statements on the journal table
  - Corrections via adjustment entries only

KEY TABLES:
  journal:     Immutable movement log, one row per ledger.Entry
  statements:  Statement snapshots (superseded, never mutated)
  accounts:    Account records with their configuration JSON

TIME ENCODING:
  Entry timestamps carry microsecond precision (the accrual engine's
  end-of-previous-day cutoff is 23:59:59.999999). They are stored in a
  fixed-width layout so lexicographic order equals chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/credit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  acct := card.Open(id, cfg, openedAt, flags, notifier).WithJournal(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/journal.go: Store interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

// timeLayout is fixed-width RFC 3339 with microseconds, so string comparison
// in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store implements the journal, statement and account persistence.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Journal (append-only movement log)
	CREATE TABLE IF NOT EXISTS journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		at TEXT NOT NULL,
		from_type TEXT,
		from_reference TEXT,
		from_component TEXT,
		from_phase TEXT,
		to_type TEXT,
		to_reference TEXT,
		to_component TEXT,
		to_phase TEXT,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Hot path: chronological replay per account
	CREATE INDEX IF NOT EXISTS idx_journal_account_at
		ON journal(account_id, at, seq);
	CREATE INDEX IF NOT EXISTS idx_journal_idempotency
		ON journal(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_journal_kind
		ON journal(kind);

	-- Statements (immutable snapshots, superseded by later cut-offs)
	CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		cut_off_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		statement_balance TEXT NOT NULL,
		minimum_due TEXT NOT NULL,
		billed_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_statements_account
		ON statements(account_id, cut_off_at);

	-- Accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// JOURNAL (ledger.Store interface)
// =============================================================================

// Append adds one entry to the journal.
func (s *Store) Append(ctx context.Context, accountID string, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO journal
		(account_id, at, from_type, from_reference, from_component, from_phase,
		 to_type, to_reference, to_component, to_phase,
		 amount, kind, reference, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fromCols := addressColumns(e.From)
	toCols := addressColumns(e.To)

	_, err := s.db.ExecContext(ctx, query,
		accountID,
		e.At.UTC().Format(timeLayout),
		fromCols[0], fromCols[1], fromCols[2], fromCols[3],
		toCols[0], toCols[1], toCols[2], toCols[3],
		e.Amount.String(),
		string(e.Kind),
		e.Reference,
		nullString(e.IdempotencyKey),
		time.Now().UTC().Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// Load returns all entries for an account in chronological order.
func (s *Store) Load(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT at, from_type, from_reference, from_component, from_phase,
		       to_type, to_reference, to_component, to_phase,
		       amount, kind, reference, idempotency_key
		FROM journal
		WHERE account_id = ?
		ORDER BY at ASC, seq ASC
	`
	return s.queryEntries(ctx, query, accountID)
}

// LoadRange returns entries with At in [from, to].
func (s *Store) LoadRange(ctx context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT at, from_type, from_reference, from_component, from_phase,
		       to_type, to_reference, to_component, to_phase,
		       amount, kind, reference, idempotency_key
		FROM journal
		WHERE account_id = ? AND at >= ? AND at <= ?
		ORDER BY at ASC, seq ASC
	`
	return s.queryEntries(ctx, query, accountID,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// Exists checks whether an idempotency key has been recorded.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM journal WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		at             string
		from           [4]sql.NullString
		to             [4]sql.NullString
		amount         string
		kind           string
		reference      sql.NullString
		idempotencyKey sql.NullString
	)

	err := rows.Scan(
		&at, &from[0], &from[1], &from[2], &from[3],
		&to[0], &to[1], &to[2], &to[3],
		&amount, &kind, &reference, &idempotencyKey,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.At, err = time.Parse(timeLayout, at)
	if err != nil {
		return e, fmt.Errorf("failed to parse entry time %q: %w", at, err)
	}
	e.From = scanAddress(from)
	e.To = scanAddress(to)
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("failed to parse entry amount %q: %w", amount, err)
	}
	e.Kind = ledger.EntryKind(kind)
	e.Reference = reference.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

// addressColumns flattens an optional address endpoint into its four columns.
func addressColumns(a *ledger.Address) [4]any {
	if a == nil {
		return [4]any{nil, nil, nil, nil}
	}
	return [4]any{string(a.TransactionType), a.Reference, string(a.Component), string(a.Phase)}
}

func scanAddress(cols [4]sql.NullString) *ledger.Address {
	if !cols[0].Valid {
		return nil
	}
	a := ledger.NewAddress(
		ledger.TransactionType(cols[0].String),
		cols[1].String,
		ledger.Component(cols[2].String),
		ledger.Phase(cols[3].String),
	)
	return &a
}

// =============================================================================
// STATEMENT STORE
// =============================================================================

// billedRow is the JSON shape of one billed bucket in a stored statement.
type billedRow struct {
	TransactionType string `json:"transaction_type"`
	Reference       string `json:"reference,omitempty"`
	Component       string `json:"component"`
	Phase           string `json:"phase"`
	Amount          string `json:"amount"`
}

// SaveStatement persists a statement snapshot. Statements are write-once: a
// later cut-off supersedes, never updates.
func (s *Store) SaveStatement(ctx context.Context, stmt card.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]billedRow, 0, len(stmt.Billed))
	for addr, amount := range stmt.Billed {
		rows = append(rows, billedRow{
			TransactionType: string(addr.TransactionType),
			Reference:       addr.Reference,
			Component:       string(addr.Component),
			Phase:           string(addr.Phase),
			Amount:          amount.String(),
		})
	}
	billedJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode billed breakdown: %w", err)
	}

	query := `
		INSERT INTO statements
		(id, account_id, cut_off_at, due_date, statement_balance, minimum_due, billed_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		stmt.ID,
		string(stmt.AccountID),
		stmt.CutOffAt.UTC().Format(timeLayout),
		stmt.DueDate.UTC().Format(timeLayout),
		stmt.StatementBalance.String(),
		stmt.MinimumDue.String(),
		string(billedJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Replayed persistence of an already-saved statement.
			return nil
		}
		return fmt.Errorf("failed to save statement: %w", err)
	}
	return nil
}

// ListStatements returns an account's statements, oldest first.
func (s *Store) ListStatements(ctx context.Context, accountID string) ([]card.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, cut_off_at, due_date, statement_balance, minimum_due, billed_json
		FROM statements
		WHERE account_id = ?
		ORDER BY cut_off_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statements []card.Statement
	for rows.Next() {
		stmt, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, rows.Err()
}

// GetStatement retrieves a statement by ID, nil if absent.
func (s *Store) GetStatement(ctx context.Context, id string) (*card.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, cut_off_at, due_date, statement_balance, minimum_due, billed_json
		FROM statements
		WHERE id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	stmt, err := scanStatement(rows)
	if err != nil {
		return nil, err
	}
	return &stmt, nil
}

func scanStatement(rows *sql.Rows) (card.Statement, error) {
	var (
		stmt       card.Statement
		accountID  string
		cutOffAt   string
		dueDate    string
		balance    string
		minimumDue string
		billedJSON string
	)

	if err := rows.Scan(&stmt.ID, &accountID, &cutOffAt, &dueDate, &balance, &minimumDue, &billedJSON); err != nil {
		return stmt, fmt.Errorf("failed to scan statement: %w", err)
	}

	stmt.AccountID = card.AccountID(accountID)
	var err error
	if stmt.CutOffAt, err = time.Parse(timeLayout, cutOffAt); err != nil {
		return stmt, err
	}
	if stmt.DueDate, err = time.Parse(timeLayout, dueDate); err != nil {
		return stmt, err
	}
	if stmt.StatementBalance, err = decimal.NewFromString(balance); err != nil {
		return stmt, err
	}
	if stmt.MinimumDue, err = decimal.NewFromString(minimumDue); err != nil {
		return stmt, err
	}

	var billed []billedRow
	if err := json.Unmarshal([]byte(billedJSON), &billed); err != nil {
		return stmt, fmt.Errorf("failed to decode billed breakdown: %w", err)
	}
	stmt.Billed = make(map[ledger.Address]decimal.Decimal, len(billed))
	for _, row := range billed {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return stmt, err
		}
		addr := ledger.NewAddress(
			ledger.TransactionType(row.TransactionType),
			row.Reference,
			ledger.Component(row.Component),
			ledger.Phase(row.Phase),
		)
		stmt.Billed[addr] = amount
	}
	return stmt, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountRecord is a stored account with its configuration JSON.
type AccountRecord struct {
	ID         string
	ConfigJSON string
	OpenedAt   time.Time
	CreatedAt  time.Time
}

// SaveAccount saves an account record. The configuration is replaceable; the
// journal is not.
func (s *Store) SaveAccount(ctx context.Context, a AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, config_json, opened_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ConfigJSON,
		a.OpenedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetAccount retrieves an account record by ID, nil if absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a AccountRecord
	var openedAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, config_json, opened_at, created_at FROM accounts WHERE id = ?",
		id,
	).Scan(&a.ID, &a.ConfigJSON, &openedAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.OpenedAt, _ = time.Parse(timeLayout, openedAt)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// ListAccounts returns all account records.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, config_json, opened_at, created_at FROM accounts ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountRecord
	for rows.Next() {
		var a AccountRecord
		var openedAt, createdAt string
		if err := rows.Scan(&a.ID, &a.ConfigJSON, &openedAt, &createdAt); err != nil {
			return nil, err
		}
		a.OpenedAt, _ = time.Parse(timeLayout, openedAt)
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"journal", "statements", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.Store = (*Store)(nil)
