package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyIdea is returned when a debate is started without an idea.
var ErrEmptyIdea = errors.New("dissertation idea is required")

// Outcome explains why a debate ended.
type Outcome string

const (
	OutcomeNovaConceded Outcome = "nova_conceded"
	OutcomeSageConceded Outcome = "sage_conceded"
	OutcomeNotViable    Outcome = "not_viable"
	OutcomeAdvisorError Outcome = "advisor_error"
	OutcomeTurnLimit    Outcome = "turn_limit"
	OutcomeCanceled     Outcome = "canceled"
)

// Description is the human readable form of the outcome.
func (o Outcome) Description() string {
	switch o {
	case OutcomeNovaConceded:
		return "Dr. Nova conceded — Dr. Sage's argument prevails."
	case OutcomeSageConceded:
		return "Dr. Sage conceded — Dr. Nova's argument prevails."
	case OutcomeNotViable:
		return "Both advisors seem to find the idea unviable."
	case OutcomeAdvisorError:
		return "The debate stopped because an advisor could not be reached."
	case OutcomeTurnLimit:
		return "The debate reached its turn limit without a concession."
	case OutcomeCanceled:
		return "The debate was canceled."
	default:
		return string(o)
	}
}

// EventType classifies engine events.
type EventType string

const (
	EventMessage  EventType = "message"
	EventThinking EventType = "thinking"
	EventWarning  EventType = "warning"
	EventError    EventType = "error"
	EventEnded    EventType = "ended"
	EventSummary  EventType = "summary"
)

// Event is emitted by the engine while a debate progresses.
type Event struct {
	Type    EventType `json:"type"`
	Message *Message  `json:"message,omitempty"`
	Role    Role      `json:"role,omitempty"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Text    string    `json:"text,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
}

// Result is the finished transcript of a debate.
type Result struct {
	Messages []Message
	Outcome  Outcome
	// Err is the advisor error that ended the debate, if any.
	Err error
}

// Engine alternates Dr. Nova and Dr. Sage until one concedes, both reject
// the idea, an advisor fails or the turn limit is reached.
type Engine struct {
	Nova        Advisor
	Sage        Advisor
	MaxTurns    int
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

type seat struct {
	persona Persona
	advisor Advisor
}

// Run debates idea and reports progress to onEvent, which may be nil.
// onEvent is called synchronously from the calling goroutine.
func (e *Engine) Run(ctx context.Context, idea string, onEvent func(Event)) (*Result, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, ErrEmptyIdea
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := e.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 12
	}

	res := &Result{}
	student := StudentMessage(idea)
	res.Messages = append(res.Messages, student)
	onEvent(Event{Type: EventMessage, Message: &student})

	seats := [2]seat{{Nova, e.Nova}, {Sage, e.Sage}}
	for turn := 0; res.Outcome == ""; turn++ {
		if turn == maxTurns {
			res.Outcome = OutcomeTurnLimit
			break
		}
		if ctx.Err() != nil {
			res.Outcome = OutcomeCanceled
			break
		}

		s := seats[turn%2]
		onEvent(Event{
			Type: EventThinking,
			Role: s.persona.Role,
			Text: fmt.Sprintf("%s is thinking...", s.persona.Role.DisplayName()),
		})

		reply, err := e.ask(ctx, s, res.Messages)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = OutcomeCanceled
				break
			}
			logger.Error("Advisor failed", "advisor", s.advisor.Name(), "turn", turn+1, "error", err)
			res.Outcome = OutcomeAdvisorError
			res.Err = fmt.Errorf("%s: %w", s.persona.Role.DisplayName(), err)
			onEvent(Event{Type: EventError, Role: s.persona.Role, Text: res.Err.Error()})
			break
		}

		msg := Message{Role: s.persona.Role, Content: reply, CreatedAt: time.Now().UTC()}
		res.Messages = append(res.Messages, msg)
		onEvent(Event{Type: EventMessage, Message: &msg})

		if s.persona.Concedes(reply) {
			if s.persona.Role == RoleNova {
				res.Outcome = OutcomeNovaConceded
			} else {
				res.Outcome = OutcomeSageConceded
			}
			break
		}

		if MutuallyRejected(res.Messages) {
			onEvent(Event{Type: EventWarning, Text: OutcomeNotViable.Description()})
			res.Outcome = OutcomeNotViable
		}
	}

	logger.Info("Debate ended", "outcome", res.Outcome, "messages", len(res.Messages))
	onEvent(Event{Type: EventEnded, Outcome: res.Outcome, Text: res.Outcome.Description()})
	return res, nil
}

func (e *Engine) ask(ctx context.Context, s seat, transcript []Message) (string, error) {
	if e.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.TurnTimeout)
		defer cancel()
	}
	return s.advisor.Respond(ctx, s.persona.Prompt(transcript))
}

// MutuallyRejected reports whether the last two messages both lean towards
// rejecting the idea. It only applies once both advisors have spoken.
func MutuallyRejected(messages []Message) bool {
	if len(messages) <= 2 {
		return false
	}
	last := messages[len(messages)-2:]
	joined := strings.ToLower(last[0].Content + " " + last[1].Content)
	return strings.Contains(joined, "not viable") || strings.Contains(joined, "unviable")
}
