// Package observation implements the crash-safe local buffer of confirmed
// observations pending upload, plus the background worker that drains it to
// the counting server.
//
// The buffer is append-only from the entry pipeline's point of view: records
// are inserted once and only ever transition from pending to uploaded.
// SQLite in WAL mode provides the durability; a crash never loses a
// confirmed observation.
package observation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Observation is one confirmed species count awaiting upload.
type Observation struct {
	ID         int64
	SpeciesID  string
	Name       string
	Amount     int
	Heard      string
	CreatedAt  time.Time
	UploadedAt *time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	species_id  TEXT    NOT NULL,
	name        TEXT    NOT NULL DEFAULT '',
	amount      INTEGER NOT NULL,
	heard       TEXT    NOT NULL DEFAULT '',
	created_at  TEXT    NOT NULL,
	uploaded_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_observations_pending
	ON observations (id) WHERE uploaded_at IS NULL;
`

// Buffer is the SQLite-backed observation store.
// All methods are safe for concurrent use.
type Buffer struct {
	db *sql.DB
}

// Open opens (creating if needed) the buffer database at path.
func Open(path string) (*Buffer, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("observation: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("observation: %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("observation: create schema: %w", err)
	}
	return &Buffer{db: db}, nil
}

// Close closes the underlying database.
func (b *Buffer) Close() error {
	return b.db.Close()
}

// Append stores one observation and returns its id. CreatedAt defaults to
// now when unset.
func (b *Buffer) Append(ctx context.Context, obs Observation) (int64, error) {
	if obs.SpeciesID == "" {
		return 0, fmt.Errorf("observation: species id is blank")
	}
	if obs.Amount <= 0 {
		return 0, fmt.Errorf("observation: amount %d is not positive", obs.Amount)
	}
	created := obs.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO observations (species_id, name, amount, heard, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		obs.SpeciesID, obs.Name, obs.Amount, obs.Heard, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("observation: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("observation: append id: %w", err)
	}
	return id, nil
}

// Pending returns up to limit not-yet-uploaded observations, oldest first.
func (b *Buffer) Pending(ctx context.Context, limit int) ([]Observation, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, species_id, name, amount, heard, created_at, uploaded_at
		 FROM observations WHERE uploaded_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observation: query pending: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("observation: iterate pending: %w", err)
	}
	return out, nil
}

// MarkUploaded stamps the given observations as uploaded.
func (b *Buffer) MarkUploaded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := b.db.ExecContext(ctx,
		`UPDATE observations SET uploaded_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("observation: mark uploaded: %w", err)
	}
	return nil
}

// Counts returns the number of pending and uploaded observations.
func (b *Buffer) Counts(ctx context.Context) (pending, uploaded int, err error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE uploaded_at IS NULL),
			COUNT(*) FILTER (WHERE uploaded_at IS NOT NULL)
		 FROM observations`)
	if err := row.Scan(&pending, &uploaded); err != nil {
		return 0, 0, fmt.Errorf("observation: count: %w", err)
	}
	return pending, uploaded, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(r rowScanner) (Observation, error) {
	var (
		obs      Observation
		created  string
		uploaded sql.NullString
	)
	if err := r.Scan(&obs.ID, &obs.SpeciesID, &obs.Name, &obs.Amount, &obs.Heard, &created, &uploaded); err != nil {
		return Observation{}, fmt.Errorf("observation: scan row: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Observation{}, fmt.Errorf("observation: parse created_at %q: %w", created, err)
	}
	obs.CreatedAt = t
	if uploaded.Valid {
		u, err := time.Parse(time.RFC3339Nano, uploaded.String)
		if err != nil {
			return Observation{}, fmt.Errorf("observation: parse uploaded_at %q: %w", uploaded.String, err)
		}
		obs.UploadedAt = &u
	}
	return obs, nil
}
