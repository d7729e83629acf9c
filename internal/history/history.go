// Package history persists digest generation runs in SQLite for later
// inspection and model evaluation.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/herald-news-agent/internal/llm"
)

// RunRecord is one persisted digest generation run.
type RunRecord struct {
	ID            string        `json:"id"`
	Topics        []string      `json:"topics"`
	Model         string        `json:"model"`
	Language      string        `json:"language"`
	Iterations    int           `json:"iterations"`
	MaxIterations int           `json:"max_iterations"`
	ToolCalls     int           `json:"tool_calls"`
	MaxToolCalls  int           `json:"max_tool_calls"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	Exhausted     bool          `json:"exhausted"`
	Salvaged      bool          `json:"salvaged"`
	Messages      []llm.Message `json:"messages,omitempty"`
	Content       string        `json:"content"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	DurationMs    int64         `json:"duration_ms"`
	Error         string        `json:"error,omitempty"`
}

// Store persists run records. It owns its database connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the run database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			topics         TEXT NOT NULL,
			model          TEXT NOT NULL,
			language       TEXT,
			iterations     INTEGER NOT NULL,
			max_iterations INTEGER NOT NULL,
			tool_calls     INTEGER NOT NULL,
			max_tool_calls INTEGER NOT NULL,
			input_tokens   INTEGER NOT NULL,
			output_tokens  INTEGER NOT NULL,
			exhausted      BOOLEAN NOT NULL DEFAULT 0,
			salvaged       BOOLEAN NOT NULL DEFAULT 0,
			messages       TEXT,
			content        TEXT,
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL,
			duration_ms    INTEGER NOT NULL,
			error          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
			ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_model
			ON runs(model);
	`)
	return err
}

// Record inserts a run record.
func (s *Store) Record(rec *RunRecord) error {
	topicsJSON, err := json.Marshal(rec.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	msgsJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (
			id, topics, model, language,
			iterations, max_iterations, tool_calls, max_tool_calls,
			input_tokens, output_tokens, exhausted, salvaged,
			messages, content, started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(topicsJSON), rec.Model, rec.Language,
		rec.Iterations, rec.MaxIterations,
		rec.ToolCalls, rec.MaxToolCalls,
		rec.InputTokens, rec.OutputTokens,
		rec.Exhausted, rec.Salvaged,
		string(msgsJSON), rec.Content,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.CompletedAt.Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	return err
}

// Get retrieves a single run record by ID.
func (s *Store) Get(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, topics, model, language,
			iterations, max_iterations, tool_calls, max_tool_calls,
			input_tokens, output_tokens, exhausted, salvaged,
			messages, content, started_at, completed_at, duration_ms, error
		FROM runs WHERE id = ?`, id)
	return scanInto(row)
}

// Recent returns run records ordered newest-first. If limit is 0, all
// records are returned.
func (s *Store) Recent(limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, topics, model, language,
			iterations, max_iterations, tool_calls, max_tool_calls,
			input_tokens, output_tokens, exhausted, salvaged,
			messages, content, started_at, completed_at, duration_ms, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner) (*RunRecord, error) {
	var rec RunRecord
	var topicsJSON string
	var language, msgsJSON, content, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &topicsJSON, &rec.Model, &language,
		&rec.Iterations, &rec.MaxIterations,
		&rec.ToolCalls, &rec.MaxToolCalls,
		&rec.InputTokens, &rec.OutputTokens,
		&rec.Exhausted, &rec.Salvaged,
		&msgsJSON, &content,
		&startedAt, &completedAt,
		&rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Language = language.String
	rec.Content = content.String
	rec.Error = errStr.String

	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)

	if topicsJSON != "" {
		_ = json.Unmarshal([]byte(topicsJSON), &rec.Topics)
	}
	if msgsJSON.Valid && msgsJSON.String != "" {
		_ = json.Unmarshal([]byte(msgsJSON.String), &rec.Messages)
	}

	return &rec, nil
}
