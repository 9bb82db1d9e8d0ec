// Package store persists server state in SQLite: the room catalog and the
// per-HWID account table that backs join authorization.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAccountNotFound is returned when no account row exists for a HWID.
var ErrAccountNotFound = errors.New("account not found")

// Store persists server state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database, runs migrations, and seeds the
// default room catalog when the rooms table is empty.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hwid TEXT NOT NULL UNIQUE,
	banned INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL,
	last_seen_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_banned ON accounts(banned);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT ''
);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}

	if err := s.seedDefaultRooms(ctx); err != nil {
		return err
	}

	slog.Debug("sqlite migrations applied")
	return nil
}

// seedDefaultRooms inserts the stock catalog into an empty rooms table.
func (s *Store) seedDefaultRooms(ctx context.Context) error {
	n, err := s.RoomCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	const q = `
INSERT INTO rooms (id, name, description) VALUES
	(1, 'Lobby', 'Default lobby'),
	(2, 'Gaming', 'Gaming room'),
	(3, 'Music', 'Music room')
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("seed default rooms: %w", err)
	}
	slog.Info("seeded default room catalog")
	return nil
}

// RoomRow is one catalog entry.
type RoomRow struct {
	ID          uint16
	Name        string
	Description string
}

// Rooms returns the full catalog in ascending id order.
func (s *Store) Rooms(ctx context.Context) ([]RoomRow, error) {
	const q = `SELECT id, name, description FROM rooms ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var out []RoomRow
	for rows.Next() {
		var r RoomRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoomCount returns the catalog size.
func (s *Store) RoomCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

// CreateRoom inserts a room with the next free id and returns that id.
func (s *Store) CreateRoom(ctx context.Context, name string) (uint16, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("room name is required")
	}

	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM rooms`).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate room id: %w", err)
	}
	if next > 0xffff {
		return 0, fmt.Errorf("room id space exhausted")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO rooms (id, name) VALUES (?, ?)`, next, name); err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}
	slog.Info("room created", "room_id", next, "name", name)
	return uint16(next), nil
}

// UpsertRoom inserts or renames a catalog entry with a fixed id. Used for
// config-file room overrides at boot.
func (s *Store) UpsertRoom(ctx context.Context, id uint16, name, description string) error {
	name = strings.TrimSpace(name)
	if id == 0 || name == "" {
		return fmt.Errorf("room id and name are required")
	}
	const q = `
INSERT INTO rooms (id, name, description) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description
`
	if _, err := s.db.ExecContext(ctx, q, id, name, description); err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// TryJoin authorizes a HWID: banned accounts are rejected, unknown HWIDs
// are registered, known ones get their last_seen touched. The returned
// error text is what the rejected client sees as its Disconnect reason.
func (s *Store) TryJoin(ctx context.Context, hwid string) error {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return fmt.Errorf("hwid is required")
	}

	now := time.Now().UnixMilli()

	var banned int64
	err := s.db.QueryRowContext(ctx, `SELECT banned FROM accounts WHERE hwid = ?`, hwid).Scan(&banned)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		const q = `INSERT INTO accounts (hwid, banned, created_at_unix_ms, last_seen_unix_ms) VALUES (?, 0, ?, ?)`
		if _, err := s.db.ExecContext(ctx, q, hwid, now, now); err != nil {
			return fmt.Errorf("register account: %w", err)
		}
		slog.Debug("account registered", "hwid", hwid)
		return nil
	case err != nil:
		return fmt.Errorf("query account: %w", err)
	}

	if banned != 0 {
		return fmt.Errorf("user with hwid `%s` is banned", hwid)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_seen_unix_ms = ? WHERE hwid = ?`, now, hwid); err != nil {
		return fmt.Errorf("touch account: %w", err)
	}
	return nil
}

// TouchDisconnect records the time a HWID's session ended. Unknown HWIDs
// are ignored.
func (s *Store) TouchDisconnect(ctx context.Context, hwid string) error {
	const q = `UPDATE accounts SET last_seen_unix_ms = ? WHERE hwid = ?`
	if _, err := s.db.ExecContext(ctx, q, time.Now().UnixMilli(), hwid); err != nil {
		return fmt.Errorf("touch account on disconnect: %w", err)
	}
	return nil
}

// SetBanned flips the ban flag for a HWID, creating the account row if it
// has never been seen.
func (s *Store) SetBanned(ctx context.Context, hwid string, banned bool) error {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return fmt.Errorf("hwid is required")
	}

	now := time.Now().UnixMilli()
	flag := 0
	if banned {
		flag = 1
	}
	const q = `
INSERT INTO accounts (hwid, banned, created_at_unix_ms, last_seen_unix_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(hwid) DO UPDATE SET banned = excluded.banned
`
	if _, err := s.db.ExecContext(ctx, q, hwid, flag, now, now); err != nil {
		return fmt.Errorf("set ban flag: %w", err)
	}
	slog.Info("ban flag updated", "hwid", hwid, "banned", banned)
	return nil
}

// AccountRow is one persisted HWID account.
type AccountRow struct {
	ID        int64
	HWID      string
	Banned    bool
	CreatedAt time.Time
	LastSeen  time.Time
}

// Account returns one account row by HWID.
func (s *Store) Account(ctx context.Context, hwid string) (AccountRow, error) {
	const q = `SELECT id, hwid, banned, created_at_unix_ms, last_seen_unix_ms FROM accounts WHERE hwid = ?`
	row, err := scanAccount(s.db.QueryRowContext(ctx, q, hwid))
	if errors.Is(err, sql.ErrNoRows) {
		return AccountRow{}, ErrAccountNotFound
	}
	return row, err
}

// BannedAccounts returns every account with the ban flag set.
func (s *Store) BannedAccounts(ctx context.Context) ([]AccountRow, error) {
	const q = `SELECT id, hwid, banned, created_at_unix_ms, last_seen_unix_ms FROM accounts WHERE banned != 0 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query banned accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		row, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (AccountRow, error) {
	var (
		row      AccountRow
		banned   int64
		created  int64
		lastSeen int64
	)
	if err := r.Scan(&row.ID, &row.HWID, &banned, &created, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccountRow{}, err
		}
		return AccountRow{}, fmt.Errorf("scan account: %w", err)
	}
	row.Banned = banned != 0
	row.CreatedAt = time.UnixMilli(created).UTC()
	row.LastSeen = time.UnixMilli(lastSeen).UTC()
	return row, nil
}
