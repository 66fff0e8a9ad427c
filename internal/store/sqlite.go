package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	State    *SQLiteStateRepo
	Sessions *SQLiteSessionRepo
	Results  *SQLiteResultRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		State:    &SQLiteStateRepo{db: db},
		Sessions: &SQLiteSessionRepo{db: db},
		Results:  &SQLiteResultRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Stand state, one row
	CREATE TABLE IF NOT EXISTS stand_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL,
		last_normal TEXT NOT NULL,
		chips_on_gripper BOOLEAN NOT NULL DEFAULT FALSE,
		session_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);

	INSERT OR IGNORE INTO stand_state (id, state, last_normal, updated_at)
	VALUES (1, 'ground', 'ground', CURRENT_TIMESTAMP);

	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		error TEXT NOT NULL DEFAULT ''
	);

	-- Sessions table
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		image_dir TEXT NOT NULL DEFAULT '',
		plan_size INTEGER NOT NULL DEFAULT 0
	);

	-- Chip results table
	CREATE TABLE IF NOT EXISTS chip_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		tray INTEGER NOT NULL,
		col INTEGER NOT NULL,
		row_num INTEGER NOT NULL,
		board INTEGER NOT NULL,
		socket INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		serial TEXT NOT NULL DEFAULT '',
		passed BOOLEAN NOT NULL DEFAULT FALSE,
		detail TEXT NOT NULL DEFAULT '',
		uploaded BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_session ON chip_results(session_id);
	CREATE INDEX IF NOT EXISTS idx_results_pending ON chip_results(uploaded) WHERE uploaded = FALSE;
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteStateRepo implements StateRepository.
type SQLiteStateRepo struct {
	db *sql.DB
}

func (r *SQLiteStateRepo) GetState(ctx context.Context) (*StandState, error) {
	var s StandState
	var cur, last string
	err := r.db.QueryRowContext(ctx,
		"SELECT state, last_normal, chips_on_gripper, session_id, updated_at FROM stand_state WHERE id = 1",
	).Scan(&cur, &last, &s.ChipsOnGripper, &s.SessionID, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.State = state.State(cur)
	s.LastNormal = state.State(last)
	return &s, nil
}

func (r *SQLiteStateRepo) SaveState(ctx context.Context, s *StandState) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE stand_state SET state = ?, last_normal = ?, chips_on_gripper = ?, session_id = ?, updated_at = ? WHERE id = 1",
		string(s.State), string(s.LastNormal), s.ChipsOnGripper, s.SessionID, time.Now(),
	)
	return err
}

func (r *SQLiteStateRepo) LogTransition(ctx context.Context, from, to state.State, trigger, source, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (from_state, to_state, trigger, source, timestamp, error) VALUES (?, ?, ?, ?, ?, ?)",
		string(from), string(to), trigger, source, time.Now(), errMsg,
	)
	return err
}

func (r *SQLiteStateRepo) GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, from_state, to_state, trigger, source, timestamp, error FROM transitions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		err := rows.Scan(&t.ID, &from, &to, &t.Trigger, &t.Source, &t.Timestamp, &t.Error)
		if err != nil {
			return nil, err
		}
		t.FromState = state.State(from)
		t.ToState = state.State(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// SQLiteSessionRepo implements SessionRepository.
type SQLiteSessionRepo struct {
	db *sql.DB
}

func (r *SQLiteSessionRepo) Create(ctx context.Context, s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (id, started_at, image_dir, plan_size) VALUES (?, ?, ?, ?)",
		s.ID, s.StartedAt, s.ImageDir, s.PlanSize,
	)
	return err
}

func (r *SQLiteSessionRepo) End(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL", time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteSessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	var ended sql.NullTime
	err := r.db.QueryRowContext(ctx,
		"SELECT id, started_at, ended_at, image_dir, plan_size FROM sessions WHERE id = ?", id,
	).Scan(&s.ID, &s.StartedAt, &ended, &s.ImageDir, &s.PlanSize)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		s.EndedAt = &ended.Time
	}
	return &s, nil
}

// SQLiteResultRepo implements ResultRepository.
type SQLiteResultRepo struct {
	db *sql.DB
}

func (r *SQLiteResultRepo) Save(ctx context.Context, res *ChipResult) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO chip_results
		(session_id, tray, col, row_num, board, socket, label, serial, passed, detail, uploaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	out, err := r.db.ExecContext(ctx, query,
		res.SessionID, res.Tray, res.Column, res.Row, res.Board, res.Socket,
		res.Label, res.Serial, res.Passed, res.Detail, res.Uploaded, res.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := out.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = id
	return nil
}

func (r *SQLiteResultRepo) MarkUploaded(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE chip_results SET uploaded = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const resultColumns = "id, session_id, tray, col, row_num, board, socket, label, serial, passed, detail, uploaded, created_at"

func (r *SQLiteResultRepo) ListPending(ctx context.Context) ([]ChipResult, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+resultColumns+" FROM chip_results WHERE uploaded = FALSE ORDER BY id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func (r *SQLiteResultRepo) ListBySession(ctx context.Context, sessionID string) ([]ChipResult, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+resultColumns+" FROM chip_results WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]ChipResult, error) {
	var results []ChipResult
	for rows.Next() {
		var c ChipResult
		err := rows.Scan(&c.ID, &c.SessionID, &c.Tray, &c.Column, &c.Row, &c.Board, &c.Socket,
			&c.Label, &c.Serial, &c.Passed, &c.Detail, &c.Uploaded, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
