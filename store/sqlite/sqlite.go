// Package sqlite implements store.TurnArchive using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadrelay/threadrelay/store"
)

// Archive records turns and their progress events in SQLite.
type Archive struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Archive{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id           TEXT PRIMARY KEY,
			channel_id   TEXT NOT NULL,
			thread_id    TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			prompt       TEXT NOT NULL,
			response     TEXT NOT NULL DEFAULT '',
			state        TEXT NOT NULL DEFAULT 'processing',
			error        TEXT NOT NULL DEFAULT '',
			started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			completed_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(channel_id, thread_id);

		CREATE TABLE IF NOT EXISTS turn_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (turn_id) REFERENCES turns(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turn_events_turn_id
			ON turn_events(turn_id);
	`)
	return err
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// CreateTurn inserts a new turn.
func (a *Archive) CreateTurn(turn *store.Turn) error {
	if turn.StartedAt.IsZero() {
		turn.StartedAt = time.Now().UTC()
	}
	if turn.CompletedAt.IsZero() {
		turn.CompletedAt = turn.StartedAt
	}
	_, err := a.db.Exec(
		`INSERT INTO turns (id, channel_id, thread_id, user_id, prompt, response, state, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ChannelID, turn.ThreadID, turn.UserID, turn.Prompt,
		turn.Response, turn.State, turn.Error, turn.StartedAt, turn.CompletedAt,
	)
	return err
}

// UpdateTurn updates the mutable fields of a turn.
func (a *Archive) UpdateTurn(turn *store.Turn) error {
	turn.CompletedAt = time.Now().UTC()
	_, err := a.db.Exec(
		`UPDATE turns SET response = ?, state = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		turn.Response, turn.State, turn.Error, turn.CompletedAt, turn.ID,
	)
	return err
}

// GetTurn retrieves a turn by id.
func (a *Archive) GetTurn(id string) (*store.Turn, error) {
	row := a.db.QueryRow(
		`SELECT id, channel_id, thread_id, user_id, prompt, response, state, error, started_at, completed_at
		 FROM turns WHERE id = ?`, id,
	)
	return scanTurn(row)
}

// ListTurns returns the most recent turns, newest first.
func (a *Archive) ListTurns(limit int) ([]*store.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT id, channel_id, thread_id, user_id, prompt, response, state, error, started_at, completed_at
		 FROM turns ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*store.Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// AddEvent inserts a progress event and fills in its id.
func (a *Archive) AddEvent(event *store.TurnEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	result, err := a.db.Exec(
		`INSERT INTO turn_events (turn_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.TurnID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a turn, optionally after a given event id.
func (a *Archive) GetEvents(turnID string, afterID int64) ([]*store.TurnEvent, error) {
	rows, err := a.db.Query(
		`SELECT id, turn_id, type, data, created_at
		 FROM turn_events
		 WHERE turn_id = ? AND id > ?
		 ORDER BY id ASC`,
		turnID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*store.TurnEvent
	for rows.Next() {
		e := &store.TurnEvent{}
		if err := rows.Scan(&e.ID, &e.TurnID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTurn(row scannable) (*store.Turn, error) {
	turn := &store.Turn{}
	err := row.Scan(
		&turn.ID, &turn.ChannelID, &turn.ThreadID, &turn.UserID, &turn.Prompt,
		&turn.Response, &turn.State, &turn.Error, &turn.StartedAt, &turn.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return turn, nil
}

var _ store.TurnArchive = (*Archive)(nil)
