package positions

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists zone targets.
type Repository interface {
	// Load returns the stored targets and the zones that had no row.
	Load(ctx context.Context) (Set, []Zone, error)
	Save(ctx context.Context, z Zone, t Target) error
}

// SQLiteRepository implements Repository using the zone_targets table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed zone target repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load reads every zone row. Missing zones keep zero targets.
func (r *SQLiteRepository) Load(ctx context.Context) (Set, []Zone, error) {
	const query = `SELECT zone, x, y, z, updated_at FROM zone_targets`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return Set{}, nil, fmt.Errorf("querying zone targets: %w", err)
	}
	defer rows.Close()

	var set Set
	found := make(map[Zone]bool, len(Zones))
	for rows.Next() {
		var (
			name      string
			t         Target
			updatedAt string
		)
		if err := rows.Scan(&name, &t.X, &t.Y, &t.Z, &updatedAt); err != nil {
			return Set{}, nil, fmt.Errorf("scanning zone target: %w", err)
		}
		z, err := ParseZone(name)
		if err != nil {
			return Set{}, nil, err
		}
		set, _ = set.With(z, t) //nolint:errcheck // z is validated by ParseZone
		found[z] = true
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil && ts.After(set.UpdatedAt) {
			set.UpdatedAt = ts
		}
	}
	if err := rows.Err(); err != nil {
		return Set{}, nil, fmt.Errorf("iterating zone targets: %w", err)
	}

	var missing []Zone
	for _, z := range Zones {
		if !found[z] {
			missing = append(missing, z)
		}
	}
	return set, missing, nil
}

// Save upserts the target of one zone.
func (r *SQLiteRepository) Save(ctx context.Context, z Zone, t Target) error {
	if _, err := ParseZone(string(z)); err != nil {
		return err
	}
	const query = `INSERT INTO zone_targets (zone, x, y, z, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(zone) DO UPDATE SET
			x = excluded.x, y = excluded.y, z = excluded.z, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, string(z), t.X, t.Y, t.Z,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving zone %s: %w", z, err)
	}
	return nil
}
