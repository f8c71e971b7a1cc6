package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/wadialog/pkg/domain"
	_ "modernc.org/sqlite"
)

// History implements ports.HistoryLogger using SQLite.
type History struct {
	db *sql.DB
}

// NewHistory opens (or creates) the history database at dbPath.
func NewHistory(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the webhook workers write while reads are in flight.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		message_kind TEXT NOT NULL,
		stage TEXT,
		content TEXT,
		message_id TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id, id);
	`
	if _, err := h.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Log appends entry to the history of sessionID.
func (h *History) Log(ctx context.Context, sessionID string, entry domain.HistoryEntry) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(b)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
	INSERT INTO history (session_id, role, message_kind, stage, content, message_id, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := h.db.ExecContext(ctx, query,
		sessionID, string(entry.Role), entry.MessageKind, entry.Stage,
		entry.Content, entry.MessageID, metadata, ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest entries of sessionID, oldest first.
func (h *History) Recent(ctx context.Context, sessionID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT role, message_kind, stage, content, message_id, metadata_json, created_at
		FROM history WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := h.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e                     domain.HistoryEntry
			role                  string
			stage, content, msgID sql.NullString
			metadata              sql.NullString
			createdAt             int64
		)
		if err := rows.Scan(&role, &e.MessageKind, &stage, &content, &msgID, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Role = domain.Role(role)
		e.Stage = stage.String
		e.Content = content.String
		e.MessageID = msgID.String
		e.Timestamp = time.UnixMilli(createdAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
