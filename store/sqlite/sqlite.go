/*
Package sqlite provides a SQLite-backed implementation of points.Store.

KEY TABLES:

	grants:             Every grant with its remaining amount
	spends:             One row per spend call
	spend_entries:      Per-payer deltas of a spend (report order)
	spend_consumptions: Per-grant deductions of a spend (consumption order)

WRITE RULES:
  - Grants are inserted once; only the remaining amount is ever updated,
    and only inside RecordSpend
  - RecordSpend runs in one database transaction: every grant update and
    every spend row commits together or not at all
  - An update that would take a positive grant below zero, or consume only
    part of a negative one, aborts the spend

CONCURRENCY:
  Uses sync.RWMutex around the database handle. ":memory:" databases are
  pinned to a single connection so every query sees the same data.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:

	store, err := sqlite.New("./data/points.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	svc, err := points.NewService(ctx, store, logger)

SEE ALSO:
  - points/store.go: Interface definition
  - points/store/memory.go: In-memory implementation for testing
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

	"github.com/mattn/go-sqlite3"
	"github.com/warp/points-ledger/points"
)

// Store implements points.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing handle and migrates the schema.
func NewWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL UNIQUE,
		payer TEXT NOT NULL,
		points INTEGER NOT NULL,
		granted INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_payer
		ON grants(payer);
	CREATE INDEX IF NOT EXISTS idx_grants_timestamp
		ON grants(timestamp, seq);

	CREATE TABLE IF NOT EXISTS spends (
		id TEXT PRIMARY KEY,
		requested INTEGER NOT NULL,
		shortfall INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spends_created_at
		ON spends(created_at DESC);

	CREATE TABLE IF NOT EXISTS spend_entries (
		spend_id TEXT NOT NULL REFERENCES spends(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		payer TEXT NOT NULL,
		points INTEGER NOT NULL,
		PRIMARY KEY (spend_id, position)
	);

	CREATE TABLE IF NOT EXISTS spend_consumptions (
		spend_id TEXT NOT NULL REFERENCES spends(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		grant_id TEXT NOT NULL REFERENCES grants(id),
		payer TEXT NOT NULL,
		points INTEGER NOT NULL,
		PRIMARY KEY (spend_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_spend_consumptions_grant
		ON spend_consumptions(grant_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// GRANTS
// =============================================================================

// SaveGrant inserts a grant.
func (s *Store) SaveGrant(ctx context.Context, g points.Grant, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO grants
		(id, seq, payer, points, granted, timestamp, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		g.ID,
		g.Seq,
		g.Payer,
		g.Points,
		g.Granted,
		formatTime(g.Timestamp),
		nullString(idempotencyKey),
		formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return points.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

// Exists checks if an idempotency key was used.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM grants WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// LoadGrants returns all grants in insertion order.
func (s *Store) LoadGrants(ctx context.Context) ([]points.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, payer, points, granted, timestamp
		FROM grants
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []points.Grant
	for rows.Next() {
		var (
			g  points.Grant
			ts string
		)
		if err := rows.Scan(&g.ID, &g.Seq, &g.Payer, &g.Points, &g.Granted, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.ID, err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// =============================================================================
// SPENDS
// =============================================================================

// RecordSpend applies every grant deduction and stores the spend atomically.
func (s *Store) RecordSpend(ctx context.Context, rec points.SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, c := range rec.Allocation.Consumed {
		res, err := sqlTx.ExecContext(ctx, consumeQuery(c), c.Points, c.GrantID, c.Points)
		if err != nil {
			return fmt.Errorf("failed to update grant %s: %w", c.GrantID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update grant %s: %w", c.GrantID, err)
		}
		if n != 1 {
			return consumeError(ctx, sqlTx, c.GrantID)
		}
	}

	if _, err := sqlTx.ExecContext(ctx,
		"INSERT INTO spends (id, requested, shortfall, created_at) VALUES (?, ?, ?, ?)",
		rec.ID, rec.Allocation.Requested, rec.Allocation.Shortfall, formatTime(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert spend: %w", err)
	}

	for i, e := range rec.Allocation.Entries {
		if _, err := sqlTx.ExecContext(ctx,
			"INSERT INTO spend_entries (spend_id, position, payer, points) VALUES (?, ?, ?, ?)",
			rec.ID, i, e.Payer, e.Points,
		); err != nil {
			return fmt.Errorf("failed to insert spend entry: %w", err)
		}
	}

	for i, c := range rec.Allocation.Consumed {
		if _, err := sqlTx.ExecContext(ctx,
			"INSERT INTO spend_consumptions (spend_id, position, grant_id, payer, points) VALUES (?, ?, ?, ?, ?)",
			rec.ID, i, c.GrantID, c.Payer, c.Points,
		); err != nil {
			return fmt.Errorf("failed to insert spend consumption: %w", err)
		}
	}

	return sqlTx.Commit()
}

// consumeQuery guards a grant update. Positive grants may not go below zero;
// negative adjustments are only consumed whole.
func consumeQuery(c points.GrantConsumption) string {
	if c.Points < 0 {
		return "UPDATE grants SET points = points - ? WHERE id = ? AND points = ?"
	}
	return "UPDATE grants SET points = points - ? WHERE id = ? AND points >= ?"
}

// consumeError tells a missing grant apart from one without enough left.
func consumeError(ctx context.Context, tx *sql.Tx, grantID string) error {
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM grants WHERE id = ?", grantID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check grant %s: %w", grantID, err)
	}
	if count == 0 {
		return fmt.Errorf("grant %s: %w", grantID, points.ErrGrantNotFound)
	}
	return fmt.Errorf("grant %s: %w", grantID, points.ErrGrantOverdrawn)
}

// ListSpends returns spends newest first with their entries and consumptions.
func (s *Store) ListSpends(ctx context.Context, limit int) ([]points.SpendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requested, shortfall, created_at
		FROM spends
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spends: %w", err)
	}

	var records []points.SpendRecord
	for rows.Next() {
		var (
			rec       points.SpendRecord
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Allocation.Requested, &rec.Allocation.Shortfall, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}
		rec.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("spend %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range records {
		if err := s.loadSpendDetail(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Store) loadSpendDetail(ctx context.Context, rec *points.SpendRecord) error {
	entries, err := s.db.QueryContext(ctx,
		"SELECT payer, points FROM spend_entries WHERE spend_id = ? ORDER BY position",
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query spend entries: %w", err)
	}
	for entries.Next() {
		var e points.SpendReportEntry
		if err := entries.Scan(&e.Payer, &e.Points); err != nil {
			entries.Close()
			return fmt.Errorf("failed to scan spend entry: %w", err)
		}
		rec.Allocation.Entries = append(rec.Allocation.Entries, e)
	}
	entries.Close()

	consumptions, err := s.db.QueryContext(ctx,
		"SELECT grant_id, payer, points FROM spend_consumptions WHERE spend_id = ? ORDER BY position",
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query spend consumptions: %w", err)
	}
	defer consumptions.Close()

	for consumptions.Next() {
		var c points.GrantConsumption
		if err := consumptions.Scan(&c.GrantID, &c.Payer, &c.Points); err != nil {
			return fmt.Errorf("failed to scan spend consumption: %w", err)
		}
		rec.Allocation.Consumed = append(rec.Allocation.Consumed, c)
	}
	return consumptions.Err()
}

// Reset clears all data. Use only for demo scenarios and tests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"spend_consumptions", "spend_entries", "spends", "grants"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeFormat keeps nine fractional digits so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
