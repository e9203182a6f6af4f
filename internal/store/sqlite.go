package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"nickchat/internal/model"
)

// SQLite is the durable store driver.
type SQLite struct {
	conn *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &SQLite{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uuid TEXT PRIMARY KEY,
			nickname TEXT UNIQUE NOT NULL,
			session_token TEXT NOT NULL,
			latest_ip TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			uuid TEXT PRIMARY KEY,
			author_uuid TEXT REFERENCES users(uuid) ON DELETE SET NULL,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.conn.Close() }

func (s *SQLite) scanUser(row *sql.Row) (model.User, bool, error) {
	var u model.User
	err := row.Scan(&u.UUID, &u.Nickname, &u.SessionToken, &u.LatestIP, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return u, true, nil
}

func (s *SQLite) FindUser(ctx context.Context, id string) (model.User, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT uuid, nickname, session_token, latest_ip, created_at, updated_at FROM users WHERE uuid = ?", id)
	return s.scanUser(row)
}

func (s *SQLite) FindUserByNickname(ctx context.Context, nickname string) (model.User, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT uuid, nickname, session_token, latest_ip, created_at, updated_at FROM users WHERE nickname = ?", nickname)
	return s.scanUser(row)
}

func (s *SQLite) CreateUser() model.User { return model.NewUser() }

func (s *SQLite) SaveUser(ctx context.Context, u model.User) error {
	if u.UUID == "" || u.Nickname == "" {
		return ErrMissingField
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO users (uuid, nickname, session_token, latest_ip, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			nickname = excluded.nickname,
			session_token = excluded.session_token,
			latest_ip = excluded.latest_ip,
			updated_at = excluded.updated_at`,
		u.UUID, u.Nickname, u.SessionToken, u.LatestIP, u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: users.nickname") {
		return ErrNicknameTaken
	}
	return err
}

func (s *SQLite) FindMessage(ctx context.Context, id string) (model.Message, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT uuid, COALESCE(author_uuid, ''), body, created_at, updated_at FROM messages WHERE uuid = ?", id)

	var m model.Message
	err := row.Scan(&m.UUID, &m.AuthorUUID, &m.Message, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, err
	}
	return m, true, nil
}

func (s *SQLite) MessagesBefore(ctx context.Context, before int64, limit int) ([]model.Message, error) {
	limit = clampLimit(limit)

	rows, err := s.conn.QueryContext(ctx, `
		SELECT uuid, COALESCE(author_uuid, ''), body, created_at, updated_at
		FROM messages WHERE created_at < ?
		ORDER BY created_at DESC LIMIT ?`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.UUID, &m.AuthorUUID, &m.Message, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *SQLite) CreateMessage() model.Message { return model.NewMessage() }

func (s *SQLite) SaveMessage(ctx context.Context, m model.Message) error {
	if m.UUID == "" {
		return ErrMissingField
	}

	author := sql.NullString{String: m.AuthorUUID, Valid: m.AuthorUUID != ""}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages (uuid, author_uuid, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		m.UUID, author, m.Message, m.CreatedAt, m.UpdatedAt)
	return err
}
