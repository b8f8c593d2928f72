// Package storage keeps a local SQLite copy of the last snapshot read from
// the finance API, plus a log of form submissions. The finance API stays the
// source of truth; this copy only lets a restarted dashboard show the last
// known data.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"finboard/internal/core"
	applog "finboard/internal/log"
)

const timeLayout = time.RFC3339Nano

type SnapshotStore struct {
	db     *sql.DB
	logger *applog.Logger
}

// Open creates the database directory, runs migrations and opens the store.
func Open(dbPath string, logger *applog.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = applog.Discard()
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	return &SnapshotStore{db: db, logger: logger.WithComponent(applog.ComponentStorage)}, nil
}

func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSnapshot replaces the stored snapshot in one transaction.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap core.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM snapshot_transactions",
		"DELETE FROM snapshot_budgets",
		"DELETE FROM snapshot_meta",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	sum := snap.Summary
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, total_income, total_expense, balance, fixed_income, variable_income, loaded_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		sum.TotalIncome, sum.TotalExpense, sum.Balance,
		nullableFloatPtr(sum.FixedIncome), nullableFloatPtr(sum.VariableIncome),
		snap.LoadedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert snapshot meta: %w", err)
	}

	insTx, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_transactions (position, id, amount, category, type, description, date, floating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer insTx.Close()
	for i, t := range snap.Transactions {
		var date sql.NullString
		if !t.Date.IsZero() {
			date = sql.NullString{String: t.Date.String(), Valid: true}
		}
		if _, err := insTx.ExecContext(ctx, i, t.ID, nullableFloat(t.Amount), t.Category, string(t.Type), t.Description, date, t.Date.Floating); err != nil {
			return fmt.Errorf("insert snapshot transaction %q: %w", t.ID, err)
		}
	}

	for _, b := range snap.Budgets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_budgets (category, limit_amount, spent, remaining) VALUES (?, ?, ?, ?)`,
			b.Category, b.Limit, b.Spent, b.Remaining,
		); err != nil {
			return fmt.Errorf("insert budget %q: %w", b.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	s.logger.DebugContext(ctx, "Snapshot saved", applog.FieldTxCount, len(snap.Transactions))
	return nil
}

// LoadSnapshot returns the stored snapshot. ok is false when none was saved.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (snap core.Snapshot, ok bool, err error) {
	var (
		fixed, variable sql.NullFloat64
		loadedAt        string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT total_income, total_expense, balance, fixed_income, variable_income, loaded_at
		 FROM snapshot_meta WHERE id = 1`,
	).Scan(&snap.Summary.TotalIncome, &snap.Summary.TotalExpense, &snap.Summary.Balance, &fixed, &variable, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("read snapshot meta: %w", err)
	}
	if fixed.Valid {
		snap.Summary.FixedIncome = &fixed.Float64
	}
	if variable.Valid {
		snap.Summary.VariableIncome = &variable.Float64
	}
	if snap.LoadedAt, err = time.Parse(timeLayout, loadedAt); err != nil {
		return core.Snapshot{}, false, fmt.Errorf("parse loaded_at: %w", err)
	}

	if snap.Transactions, err = s.loadTransactions(ctx); err != nil {
		return core.Snapshot{}, false, err
	}
	if snap.Budgets, err = s.loadBudgets(ctx); err != nil {
		return core.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SnapshotStore) loadTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, category, type, description, date FROM snapshot_transactions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot transactions: %w", err)
	}
	defer rows.Close()

	txs := []core.Transaction{}
	for rows.Next() {
		var (
			t      core.Transaction
			amount sql.NullFloat64
			typ    string
			date   sql.NullString
		)
		if err := rows.Scan(&t.ID, &amount, &t.Category, &typ, &t.Description, &date); err != nil {
			return nil, fmt.Errorf("scan snapshot transaction: %w", err)
		}
		t.Type = core.TxType(typ)
		t.Amount = math.NaN()
		if amount.Valid {
			t.Amount = amount.Float64
		}
		if date.Valid {
			if t.Date, err = core.ParseTimestamp(date.String); err != nil {
				return nil, fmt.Errorf("snapshot transaction %q: %w", t.ID, err)
			}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *SnapshotStore) loadBudgets(ctx context.Context) ([]core.BudgetStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, limit_amount, spent, remaining FROM snapshot_budgets ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot budgets: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetStatus
	for rows.Next() {
		var b core.BudgetStatus
		if err := rows.Scan(&b.Category, &b.Limit, &b.Spent, &b.Remaining); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecordSubmission appends one attempt to the submission log.
func (s *SnapshotStore) RecordSubmission(ctx context.Context, sub core.Submission) error {
	p := sub.Payload
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (amount, category, type, description, date, created, error, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableFloat(float64(p.Amount)), p.Category, string(p.Type), p.Description, p.Date,
		sub.Created, sub.Error, sub.SubmittedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// RecentSubmissions returns up to limit submissions, newest first.
func (s *SnapshotStore) RecentSubmissions(ctx context.Context, limit int) ([]core.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount, category, type, description, date, created, error, submitted_at
		 FROM submissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []core.Submission
	for rows.Next() {
		var (
			sub     core.Submission
			amount  sql.NullFloat64
			typ, at string
		)
		if err := rows.Scan(&amount, &sub.Payload.Category, &typ, &sub.Payload.Description, &sub.Payload.Date, &sub.Created, &sub.Error, &at); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Payload.Type = core.TxType(typ)
		sub.Payload.Amount = core.Amount(math.NaN())
		if amount.Valid {
			sub.Payload.Amount = core.Amount(amount.Float64)
		}
		if sub.SubmittedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parse submitted_at: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullableFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullableFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return nullableFloat(*f)
}
