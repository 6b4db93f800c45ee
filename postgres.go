package debate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS debates (
	id TEXT PRIMARY KEY,
	idea TEXT NOT NULL,
	status TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	summary_json TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS messages (
	debate_id TEXT NOT NULL REFERENCES debates(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (debate_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_debates_created_at ON debates(created_at);
`

// PostgresStore keeps debates in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to dbURL and creates the schema.
func OpenPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = 15 * time.Minute
	config.ConnConfig.ConnectTimeout = 5 * time.Second
	config.ConnConfig.RuntimeParams["application_name"] = "debate"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateDebate(ctx context.Context, d *Debate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO debates (id, idea, status, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Idea, string(d.Status), d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert debate: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, debateID string, m Message) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO messages (debate_id, seq, role, content, created_at)
	SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM messages WHERE debate_id = $1
	`, debateID, string(m.Role), m.Content, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishDebate(ctx context.Context, debateID string, outcome Outcome, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE debates SET status = $1, outcome = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(StatusFinished), string(outcome), errText, time.Now().UTC(), debateID)
	if err != nil {
		return fmt.Errorf("failed to finish debate: %w", err)
	}
	return checkTag(tag)
}

func (s *PostgresStore) SaveSummary(ctx context.Context, debateID string, summary *Summary) error {
	data, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE debates SET summary_json = $1 WHERE id = $2`, data, debateID)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return checkTag(tag)
}

func checkTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDebate(ctx context.Context, debateID string) (*Debate, error) {
	var (
		d           Debate
		status      string
		outcome     string
		summaryJSON *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, idea, status, outcome, error, summary_json, created_at, finished_at FROM debates WHERE id = $1`,
		debateID).Scan(&d.ID, &d.Idea, &status, &outcome, &d.Error, &summaryJSON, &d.CreatedAt, &d.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query debate: %w", err)
	}
	d.Status = Status(status)
	d.Outcome = Outcome(outcome)
	if summaryJSON != nil {
		if d.Summary, err = unmarshalSummary(*summaryJSON); err != nil {
			return nil, err
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM messages WHERE debate_id = $1 ORDER BY seq`, debateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	d.Messages = []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = Role(role)
		d.Messages = append(d.Messages, m)
	}
	return &d, rows.Err()
}

func (s *PostgresStore) ListDebates(ctx context.Context, limit int) ([]Debate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, idea, status, outcome, error, created_at, finished_at FROM debates ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list debates: %w", err)
	}
	defer rows.Close()

	debates := []Debate{}
	for rows.Next() {
		var (
			d       Debate
			status  string
			outcome string
		)
		if err := rows.Scan(&d.ID, &d.Idea, &status, &outcome, &d.Error, &d.CreatedAt, &d.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan debate: %w", err)
		}
		d.Status = Status(status)
		d.Outcome = Outcome(outcome)
		debates = append(debates, d)
	}
	return debates, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
