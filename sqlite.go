package debate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS debates (
	id TEXT PRIMARY KEY,
	idea TEXT NOT NULL,
	status TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	summary_json TEXT,
	created_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	debate_id TEXT NOT NULL REFERENCES debates(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (debate_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_debates_created_at ON debates(created_at);
`

// SQLiteStore keeps debates in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the SQLite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database: %w", err)
		}
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateDebate(ctx context.Context, d *Debate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO debates (id, idea, status, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.Idea, string(d.Status), d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert debate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, debateID string, m Message) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO messages (debate_id, seq, role, content, created_at)
	SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM messages WHERE debate_id = ?
	`, debateID, string(m.Role), m.Content, m.CreatedAt.UTC(), debateID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishDebate(ctx context.Context, debateID string, outcome Outcome, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE debates SET status = ?, outcome = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(StatusFinished), string(outcome), errText, time.Now().UTC(), debateID)
	if err != nil {
		return fmt.Errorf("failed to finish debate: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, debateID string, summary *Summary) error {
	data, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE debates SET summary_json = ? WHERE id = ?`, data, debateID)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetDebate(ctx context.Context, debateID string) (*Debate, error) {
	var (
		d           Debate
		summaryJSON sql.NullString
		finishedAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, idea, status, outcome, error, summary_json, created_at, finished_at FROM debates WHERE id = ?`,
		debateID).Scan(&d.ID, &d.Idea, &d.Status, &d.Outcome, &d.Error, &summaryJSON, &d.CreatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query debate: %w", err)
	}
	if finishedAt.Valid {
		d.FinishedAt = &finishedAt.Time
	}
	if d.Summary, err = unmarshalSummary(summaryJSON.String); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE debate_id = ? ORDER BY seq`, debateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	d.Messages = []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		d.Messages = append(d.Messages, m)
	}
	return &d, rows.Err()
}

func (s *SQLiteStore) ListDebates(ctx context.Context, limit int) ([]Debate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idea, status, outcome, error, created_at, finished_at FROM debates ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list debates: %w", err)
	}
	defer rows.Close()

	debates := []Debate{}
	for rows.Next() {
		var (
			d          Debate
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.Idea, &d.Status, &d.Outcome, &d.Error, &d.CreatedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan debate: %w", err)
		}
		if finishedAt.Valid {
			d.FinishedAt = &finishedAt.Time
		}
		debates = append(debates, d)
	}
	return debates, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
