package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a debate does not exist.
var ErrNotFound = errors.New("debate not found")

// Status is the lifecycle state of a stored debate.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Debate is a stored debate with its transcript and summary.
type Debate struct {
	ID         string     `json:"id"`
	Idea       string     `json:"idea"`
	Status     Status     `json:"status"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	Messages   []Message  `json:"messages"`
	Summary    *Summary   `json:"summary,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Markdown renders the transcript followed by the summary.
func (d *Debate) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Dual-AI Dissertation Debate\n\n")
	fmt.Fprintf(&sb, "*%s*\n\n", d.CreatedAt.Format("2 January 2006 15:04"))
	for _, m := range d.Messages {
		fmt.Fprintf(&sb, "**%s:** %s\n\n", m.Role.DisplayName(), m.Content)
	}
	if d.Outcome != "" {
		fmt.Fprintf(&sb, "> %s\n\n", d.Outcome.Description())
	}
	if d.Summary != nil {
		sb.WriteString(d.Summary.Markdown())
	}
	return sb.String()
}

// Store persists debates.
type Store interface {
	CreateDebate(ctx context.Context, d *Debate) error
	AppendMessage(ctx context.Context, debateID string, m Message) error
	FinishDebate(ctx context.Context, debateID string, outcome Outcome, errText string) error
	SaveSummary(ctx context.Context, debateID string, s *Summary) error
	GetDebate(ctx context.Context, debateID string) (*Debate, error)
	ListDebates(ctx context.Context, limit int) ([]Debate, error)
	Close() error
}

// OpenStore picks the backend from the URL: postgres:// and postgresql://
// URLs use Postgres, anything else is a SQLite file path.
func OpenStore(ctx context.Context, url string) (Store, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return OpenPostgresStore(ctx, url)
	}
	return OpenSQLiteStore(url)
}

func marshalSummary(s *Summary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(data), nil
}

func unmarshalSummary(data string) (*Summary, error) {
	if data == "" {
		return nil, nil
	}
	var s Summary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &s, nil
}
