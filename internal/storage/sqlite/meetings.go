// Package sqlite persists meetings in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" works for tests but
// is private to one connection, so the pool is pinned to a single conn.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meetings (
		id         TEXT PRIMARY KEY,
		host_id    TEXT NOT NULL,
		title      TEXT,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meetings table: %w", err)
	}

	log.Info().Str("module", "storage.sqlite").Str("path", path).Msg("database ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, m *domain.Meeting) error {
	if !m.Status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStatus, m.Status)
	}
	var title sql.NullString
	if m.Title != nil {
		title = sql.NullString{String: *m.Title, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, host_id, title, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(m.ID), string(m.HostID), title, string(m.Status), m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert meeting %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) Meeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	var (
		m         domain.Meeting
		host      string
		title     sql.NullString
		status    string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT host_id, title, status, created_at FROM meetings WHERE id = ?`, string(id)).
		Scan(&host, &title, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select meeting %s: %w", id, err)
	}
	m.ID = id
	m.HostID = domain.UserID(host)
	if title.Valid {
		m.Title = &title.String
	}
	m.Status = domain.MeetingStatus(status)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &m, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id domain.MeetingID, status domain.MeetingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE meetings SET status = ? WHERE id = ?`, string(status), string(id))
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrMeetingNotFound
	}
	log.Info().Str("module", "storage.sqlite").Str("meeting", string(id)).Str("status", string(status)).Msg("meeting status updated")
	return nil
}
