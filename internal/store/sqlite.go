// Package store persists source and conversation records in SQLite. The
// search index is not persisted; it is rebuilt from these records on startup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"studyassist/internal/domain"
)

// SQLiteStore implements domain.RecordStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		mime         TEXT,
		size         INTEGER DEFAULT 0,
		page_count   INTEGER DEFAULT 0,
		tags         TEXT,
		status       TEXT NOT NULL,
		storage_path TEXT,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT,
		status          TEXT NOT NULL,
		citations       TEXT,
		grounded        INTEGER DEFAULT 0,
		model           TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveSource(ctx context.Context, src domain.Source) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	tags, err := json.Marshal(src.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, mime, size, page_count, tags, status, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, mime=excluded.mime, size=excluded.size,
		   page_count=excluded.page_count, tags=excluded.tags,
		   status=excluded.status, storage_path=excluded.storage_path`,
		src.ID, src.Name, src.Mime, src.Size, src.PageCount, string(tags),
		src.Status, src.StoragePath, src.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mime, size, page_count, tags, status, storage_path, created_at
		 FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mime, size, page_count, tags, status, storage_path, created_at
		 FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var src domain.Source
	var mime, tags, storagePath sql.NullString
	if err := row.Scan(&src.ID, &src.Name, &mime, &src.Size, &src.PageCount,
		&tags, &src.Status, &storagePath, &src.CreatedAt); err != nil {
		return nil, err
	}
	src.Mime = mime.String
	src.StoragePath = storagePath.String
	if tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &src.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &src, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID string, msg domain.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	var citations string
	if len(msg.Citations) > 0 {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("marshal citations: %w", err)
		}
		citations = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, status, citations, grounded, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content=excluded.content, status=excluded.status, citations=excluded.citations,
		   grounded=excluded.grounded, model=excluded.model`,
		msg.ID, conversationID, msg.Role, msg.Content, msg.Status,
		citations, msg.Grounded, msg.Model, msg.Timestamp,
	)
	return err
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	// Last N messages, returned oldest first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, status, citations, grounded, model, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var content, citations, model sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &content, &m.Status, &citations,
			&m.Grounded, &model, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.Model = model.String
		if citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &m.Citations); err != nil {
				return nil, fmt.Errorf("unmarshal citations: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
