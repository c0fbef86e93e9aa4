package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
	"github.com/TKAles/transfercontrollerdaemon/internal/transfer"
)

const (
	// DefaultLimit caps list queries that do not set Limit.
	DefaultLimit = 50
	maxLimit     = 1000
)

// Query filters list results. The newest rows come first.
type Query struct {
	Limit int
	Since time.Time
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}

// Repository stores cycle and fault history.
type Repository interface {
	RecordCycle(ctx context.Context, rec transfer.CycleRecord) error
	RecordFault(ctx context.Context, f transfer.Fault) error
	Cycle(ctx context.Context, id string) (transfer.CycleRecord, error)
	Cycles(ctx context.Context, q Query) ([]transfer.CycleRecord, error)
	Faults(ctx context.Context, q Query) ([]transfer.Fault, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the cycles and faults tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a history repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordCycle inserts rec. Recording the same ID twice replaces the row.
func (r *SQLiteRepository) RecordCycle(ctx context.Context, rec transfer.CycleRecord) error {
	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return fmt.Errorf("encoding cycle targets: %w", err)
	}
	const query = `INSERT OR REPLACE INTO cycles
		(id, started_at, ended_at, outcome, last_phase, parked, error, targets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		formatTime(rec.StartedAt),
		formatTime(rec.EndedAt),
		string(rec.Outcome),
		rec.LastPhase.String(),
		boolToInt(rec.Parked),
		rec.Error,
		string(targets),
	)
	if err != nil {
		return fmt.Errorf("recording cycle %s: %w", rec.ID, err)
	}
	return nil
}

// RecordFault inserts f.
func (r *SQLiteRepository) RecordFault(ctx context.Context, f transfer.Fault) error {
	const query = `INSERT OR REPLACE INTO faults
		(id, occurred_at, kind, source, phase, cycle_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		f.ID,
		formatTime(f.At),
		string(f.Kind),
		f.Source,
		f.Phase.String(),
		f.CycleID,
		f.Message,
	)
	if err != nil {
		return fmt.Errorf("recording fault %s: %w", f.ID, err)
	}
	return nil
}

const cycleColumns = `id, started_at, ended_at, outcome, last_phase, parked, error, targets`

// Cycle returns one cycle by ID.
func (r *SQLiteRepository) Cycle(ctx context.Context, id string) (transfer.CycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	rec, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.CycleRecord{}, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// Cycles lists cycles started at or after q.Since, newest first.
func (r *SQLiteRepository) Cycles(ctx context.Context, q Query) ([]transfer.CycleRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM cycles WHERE started_at >= ? ORDER BY started_at DESC LIMIT ?`,
		formatTime(q.Since), q.limit())
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []transfer.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycles: %w", err)
	}
	return out, nil
}

// Faults lists faults that occurred at or after q.Since, newest first.
func (r *SQLiteRepository) Faults(ctx context.Context, q Query) ([]transfer.Fault, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, occurred_at, kind, source, phase, cycle_id, message
		FROM faults WHERE occurred_at >= ? ORDER BY occurred_at DESC LIMIT ?`,
		formatTime(q.Since), q.limit())
	if err != nil {
		return nil, fmt.Errorf("querying faults: %w", err)
	}
	defer rows.Close()

	var out []transfer.Fault
	for rows.Next() {
		var (
			f            transfer.Fault
			at, kind, ph string
		)
		if err := rows.Scan(&f.ID, &at, &kind, &f.Source, &ph, &f.CycleID, &f.Message); err != nil {
			return nil, fmt.Errorf("scanning fault: %w", err)
		}
		f.At = parseTime(at)
		f.Kind = transfer.FaultKind(kind)
		f.Phase, _ = transfer.ParsePhase(ph) //nolint:errcheck // unknown names read as Idle
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating faults: %w", err)
	}
	return out, nil
}

// Prune deletes cycles and faults older than before and returns the
// number of rows removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	cutoff := formatTime(before)
	var total int64
	for _, stmt := range []string{
		`DELETE FROM cycles WHERE started_at < ?`,
		`DELETE FROM faults WHERE occurred_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (transfer.CycleRecord, error) {
	var (
		rec                            transfer.CycleRecord
		started, ended, outcome, phase string
		parked                         int
		targets                        string
	)
	if err := s.Scan(&rec.ID, &started, &ended, &outcome, &phase, &parked, &rec.Error, &targets); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning cycle: %w", err)
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	rec.Outcome = transfer.CycleOutcome(outcome)
	rec.LastPhase, _ = transfer.ParsePhase(phase) //nolint:errcheck // unknown names read as Idle
	rec.Parked = parked != 0
	var set positions.Set
	if err := json.Unmarshal([]byte(targets), &set); err == nil {
		rec.Targets = set
	}
	return rec, nil
}

// Timestamps are stored as fixed-width UTC so string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // format is controlled
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
