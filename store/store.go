// Package store keeps a history of registry passes and the elevations they produced
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notargets/ZMesh/registry"

	_ "modernc.org/sqlite"
)

// PassRecord is one stored registry pass
type PassRecord struct {
	ID        int64
	Iteration int
	Rank      int
	Stage     string // "rebuild" or "elevation"
	Columns   int
	Nodes     int
	Dropped   int
	Conflicts int
	Stale     int
	Anchors   int
	Failed    int
	CreatedAt time.Time
}

// Store persists passes in SQLite
type Store struct {
	db *sql.DB
}

// New opens or creates the database at dbPath; ":memory:" keeps it in memory
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS passes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iteration INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		stage TEXT NOT NULL,
		columns INTEGER NOT NULL DEFAULT 0,
		nodes INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		stale INTEGER NOT NULL DEFAULT 0,
		anchors INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS elevations (
		pass_id INTEGER NOT NULL,
		dof INTEGER NOT NULL,
		z REAL NOT NULL,
		PRIMARY KEY (pass_id, dof),
		FOREIGN KEY (pass_id) REFERENCES passes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_passes_iteration ON passes(iteration, rank);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePass stores a pass summary and, when given, the elevation of every dof
func (s *Store) SavePass(ctx context.Context, iteration, rank int, stage string,
	pass *registry.PassReport, elevations map[int]float64) (int64, error) {
	if pass == nil {
		return 0, fmt.Errorf("no pass to save")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO passes (iteration, rank, stage, columns, nodes, dropped, conflicts, stale, anchors, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, iteration, rank, stage, pass.Columns, pass.Nodes, pass.Dropped, len(pass.Conflicts),
		pass.Stale, pass.Anchors, len(pass.Failed), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert pass: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read pass id: %w", err)
	}

	if len(elevations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO elevations (pass_id, dof, z) VALUES (?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("failed to prepare elevation statement: %w", err)
		}
		defer stmt.Close()
		for dof, z := range elevations {
			if _, err := stmt.ExecContext(ctx, id, dof, z); err != nil {
				return 0, fmt.Errorf("failed to insert elevation of dof %d: %w", dof, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// Passes returns every stored pass in insertion order
func (s *Store) Passes(ctx context.Context) ([]PassRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, iteration, rank, stage, columns, nodes, dropped, conflicts, stale, anchors, failed, created_at
		FROM passes ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var (
			p       PassRecord
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Iteration, &p.Rank, &p.Stage, &p.Columns, &p.Nodes, &p.Dropped,
			&p.Conflicts, &p.Stale, &p.Anchors, &p.Failed, &created); err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		p.CreatedAt = time.Unix(created, 0)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}
	return out, nil
}

// Elevations returns the dof elevations stored with a pass
func (s *Store) Elevations(ctx context.Context, passID int64) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dof, z FROM elevations WHERE pass_id = ?`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to query elevations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var (
			dof int
			z   float64
		)
		if err := rows.Scan(&dof, &z); err != nil {
			return nil, fmt.Errorf("failed to scan elevation: %w", err)
		}
		out[dof] = z
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating elevations: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
