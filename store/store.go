// Package store keeps a catalog of track extraction runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Bucknalla/all2gpx/track"
)

// ErrRunNotFound is returned when a run id is not in the catalog
var ErrRunNotFound = errors.New("run not found")

// Store is a SQLite backed catalog
type Store struct {
	*sql.DB
}

// Run summarises one stored batch
type Run struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Input       string    `json:"input"`
	Tracks      int       `json:"tracks"`
	TotalPoints int       `json:"total_points"`
	TotalPings  int       `json:"total_pings"`
	Failures    int       `json:"failures"`
}

// FileInfo is the stored diagnostics of one file of a run
type FileInfo struct {
	Name      string           `json:"name"`
	Path      string           `json:"path"`
	Points    int              `json:"points"`
	Pings     int              `json:"pings"`
	Depth     track.DepthStats `json:"depth"`
	DepthMode string           `json:"depth_mode,omitempty"`
}

// Failure is a stored per-file failure
type Failure struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Open opens or creates the catalog at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			created_unix_ms   BIGINT NOT NULL,
			input             TEXT,
			total_points      BIGINT,
			total_pings       BIGINT
		);
		CREATE TABLE IF NOT EXISTS tracks (
			run_id            TEXT NOT NULL,
			seq               INTEGER NOT NULL,
			name              TEXT NOT NULL,
			path              TEXT,
			points            BIGINT,
			pings             BIGINT,
			depth_count       BIGINT,
			depth_min         DOUBLE,
			depth_max         DOUBLE,
			depth_mean        DOUBLE,
			depth_mode        TEXT,
			PRIMARY KEY(run_id, seq),
			FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS points (
			run_id            TEXT NOT NULL,
			track_seq         INTEGER NOT NULL,
			seq               INTEGER NOT NULL,
			time_unix_ns      BIGINT,
			latitude          DOUBLE NOT NULL,
			longitude         DOUBLE NOT NULL,
			PRIMARY KEY(run_id, track_seq, seq),
			FOREIGN KEY(run_id, track_seq) REFERENCES tracks(run_id, seq) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS failures (
			run_id            TEXT NOT NULL,
			path              TEXT NOT NULL,
			message           TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db}, nil
}

// SaveRun stores set as a new run and returns its summary
func (s *Store) SaveRun(ctx context.Context, input string, set track.Set) (Run, error) {
	run := Run{
		ID:          uuid.New().String(),
		Created:     time.Now().UTC().Truncate(time.Millisecond),
		Input:       input,
		Tracks:      len(set.Tracks),
		TotalPoints: set.TotalPoints,
		TotalPings:  set.TotalPings,
		Failures:    len(set.Failures),
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_unix_ms, input, total_points, total_pings) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Created.UnixMilli(), input, set.TotalPoints, set.TotalPings); err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}

	trackStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (run_id, seq, name, path, points, pings, depth_count, depth_min, depth_max, depth_mean, depth_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, err
	}
	defer trackStmt.Close()
	pointStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (run_id, track_seq, seq, time_unix_ns, latitude, longitude) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, err
	}
	defer pointStmt.Close()

	for i, t := range set.Tracks {
		var f track.FileSummary
		if i < len(set.Files) {
			f = set.Files[i]
		}
		var mode sql.NullString
		if f.Runtime != nil {
			mode = sql.NullString{String: f.Runtime.DepthModeAndPulse(), Valid: true}
		}
		if _, err := trackStmt.ExecContext(ctx, run.ID, i, t.Name, f.Path, len(t.Points), f.Pings,
			f.Depth.Count, f.Depth.Min, f.Depth.Max, f.Depth.Mean, mode); err != nil {
			return Run{}, fmt.Errorf("failed to insert track %s: %w", t.Name, err)
		}
		for j, p := range t.Points {
			var ts sql.NullInt64
			if !p.Time.IsZero() {
				ts = sql.NullInt64{Int64: p.Time.UnixNano(), Valid: true}
			}
			if _, err := pointStmt.ExecContext(ctx, run.ID, i, j, ts, p.Latitude, p.Longitude); err != nil {
				return Run{}, fmt.Errorf("failed to insert point %d of %s: %w", j, t.Name, err)
			}
		}
	}

	for _, f := range set.Failures {
		if _, err := tx.ExecContext(ctx, `INSERT INTO failures (run_id, path, message) VALUES (?, ?, ?)`,
			run.ID, f.Path, f.Err.Error()); err != nil {
			return Run{}, fmt.Errorf("failed to insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

const runColumns = `
	SELECT r.run_id, r.created_unix_ms, r.input, r.total_points, r.total_pings,
		(SELECT COUNT(*) FROM tracks t WHERE t.run_id = r.run_id),
		(SELECT COUNT(*) FROM failures f WHERE f.run_id = r.run_id)
	FROM runs r`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		run     Run
		created int64
	)
	if err := row.Scan(&run.ID, &created, &run.Input, &run.TotalPoints, &run.TotalPings, &run.Tracks, &run.Failures); err != nil {
		return Run{}, err
	}
	run.Created = time.UnixMilli(created).UTC()
	return run, nil
}

// Runs lists stored runs, newest first
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, runColumns+` ORDER BY r.created_unix_ms DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns the summary of one run
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.QueryRowContext(ctx, runColumns+` WHERE r.run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// Tracks returns the tracks of a run in their original order
func (s *Store) Tracks(ctx context.Context, id string) ([]track.Track, error) {
	if _, err := s.Run(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.QueryContext(ctx, `SELECT seq, name FROM tracks WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	var tracks []track.Track
	for rows.Next() {
		var seq int
		t := track.Track{Points: []track.Point{}}
		if err := rows.Scan(&seq, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.QueryContext(ctx,
		`SELECT track_seq, time_unix_ns, latitude, longitude FROM points WHERE run_id = ? ORDER BY track_seq, seq`, id)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var (
			seq int
			ts  sql.NullInt64
			p   track.Point
		)
		if err := prows.Scan(&seq, &ts, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}
		if ts.Valid {
			p.Time = time.Unix(0, ts.Int64).UTC()
		}
		if seq < 0 || seq >= len(tracks) {
			return nil, fmt.Errorf("point references missing track %d", seq)
		}
		tracks[seq].Points = append(tracks[seq].Points, p)
	}
	return tracks, prows.Err()
}

// Files returns the per-file diagnostics of a run in their original order
func (s *Store) Files(ctx context.Context, id string) ([]FileInfo, error) {
	if _, err := s.Run(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, `
		SELECT name, path, points, pings, depth_count, depth_min, depth_max, depth_mean, depth_mode
		FROM tracks WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileInfo
	for rows.Next() {
		var (
			f    FileInfo
			mode sql.NullString
		)
		if err := rows.Scan(&f.Name, &f.Path, &f.Points, &f.Pings,
			&f.Depth.Count, &f.Depth.Min, &f.Depth.Max, &f.Depth.Mean, &mode); err != nil {
			return nil, err
		}
		f.DepthMode = mode.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Failures returns the per-file failures of a run
func (s *Store) Failures(ctx context.Context, id string) ([]Failure, error) {
	rows, err := s.QueryContext(ctx, `SELECT path, message FROM failures WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Path, &f.Message); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything stored with it
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}
