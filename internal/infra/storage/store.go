// Package storage persists past sessions, persistent rooms and playlists in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/playlist"
)

const schema = `
CREATE TABLE IF NOT EXISTS past_sessions (
    id TEXT PRIMARY KEY,
    sort_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms (
    id TEXT PRIMARY KEY,
    sort_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS playlists (
    id TEXT PRIMARY KEY,
    sort_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// Store is a SQLite-backed session storage. Rows hold the JSON encoding of
// each entity so the stored shape matches the wire shape.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite allows one writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to enable WAL")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Past sessions

func (s *Store) SavePastSession(ctx context.Context, p jam.PastSession) error {
	return s.put(ctx, "past_sessions", p.ID, p.Date, p)
}

// GetPastSessions returns past sessions, newest first.
func (s *Store) GetPastSessions(ctx context.Context) ([]jam.PastSession, error) {
	return list[jam.PastSession](ctx, s.db, "past_sessions", true)
}

func (s *Store) GetPastSession(ctx context.Context, id string) (*jam.PastSession, error) {
	return get[jam.PastSession](ctx, s.db, "past_sessions", id)
}

func (s *Store) DeletePastSession(ctx context.Context, id string) error {
	return s.delete(ctx, "past_sessions", id)
}

// Rooms

func (s *Store) SaveRoom(ctx context.Context, r jam.Room) error {
	return s.put(ctx, "rooms", r.ID, r.CreatedAt, r)
}

// GetRooms returns rooms in creation order.
func (s *Store) GetRooms(ctx context.Context) ([]jam.Room, error) {
	return list[jam.Room](ctx, s.db, "rooms", false)
}

func (s *Store) GetRoom(ctx context.Context, id string) (*jam.Room, error) {
	return get[jam.Room](ctx, s.db, "rooms", id)
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	return s.delete(ctx, "rooms", id)
}

// Playlists

func (s *Store) SavePlaylist(ctx context.Context, p playlist.Playlist) error {
	return s.put(ctx, "playlists", p.ID, p.CreatedAt, p)
}

// GetPlaylists returns playlists in creation order.
func (s *Store) GetPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	return list[playlist.Playlist](ctx, s.db, "playlists", false)
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error) {
	return get[playlist.Playlist](ctx, s.db, "playlists", id)
}

// UpdatePlaylist overwrites an existing playlist.
func (s *Store) UpdatePlaylist(ctx context.Context, p playlist.Playlist) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to encode playlist")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE playlists SET data = ? WHERE id = ?`, string(data), p.ID)
	if err != nil {
		return errors.Wrapf(err, "update playlist %s", p.ID)
	}
	return requireRow(res, "playlists", p.ID)
}

func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	return s.delete(ctx, "playlists", id)
}

func (s *Store) put(ctx context.Context, table, id string, sortAt time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s row", table)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, sort_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET sort_at = excluded.sort_at, data = excluded.data`,
		id, sortAt.UnixMilli(), string(data),
	)
	if err != nil {
		return errors.Wrapf(err, "save %s %s", table, id)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete %s %s", table, id)
	}
	return requireRow(res, table, id)
}

func get[T any](ctx context.Context, db *sql.DB, table, id string) (*T, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(jam.ErrNotFound, "%s %s", table, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %s", table, id)
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, errors.Wrapf(err, "decode %s %s", table, id)
	}
	return &v, nil
}

func list[T any](ctx context.Context, db *sql.DB, table string, newestFirst bool) ([]T, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT data FROM `+table+` ORDER BY sort_at `+order+`, id`)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", table)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s row", table)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(jam.ErrNotFound, "%s %s", table, id)
	}
	return nil
}
