package debate

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who wrote a message in the debate transcript.
type Role string

const (
	RoleStudent Role = "student"
	RoleNova    Role = "nova"
	RoleSage    Role = "sage"
)

// DisplayName is the name shown in transcripts.
func (r Role) DisplayName() string {
	switch r {
	case RoleStudent:
		return "Student"
	case RoleNova:
		return "Dr. Nova"
	case RoleSage:
		return "Dr. Sage"
	default:
		return string(r)
	}
}

// Message is one entry of the debate transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StudentMessage wraps the student's idea the way it is shown to both advisors.
func StudentMessage(idea string) Message {
	return Message{
		Role:      RoleStudent,
		Content:   fmt.Sprintf("Student Idea: %s", strings.TrimSpace(idea)),
		CreatedAt: time.Now().UTC(),
	}
}

// Chat roles understood by the LLM adapters.
const (
	ChatSystem    = "system"
	ChatUser      = "user"
	ChatAssistant = "assistant"
	ChatModel     = "model"
)

// ChatMessage is a provider-neutral chat turn.
type ChatMessage struct {
	Role    string
	Content string
}

// Persona describes one of the two supervisors.
type Persona struct {
	Role         Role
	SystemPrompt string
	// Concession is the exact phrase the advisor uses to give up the debate.
	Concession string
	// mapRole converts a transcript role to the chat role this advisor sees.
	mapRole func(Role) string
}

var Nova = Persona{
	Role:         RoleNova,
	SystemPrompt: "You are Dr. Nova, a doctoral supervisor. Your persona is sharp, critical, and focused on practical execution. You are debating a student's idea with Dr. Sage.",
	Concession:   "I concede — Dr Sage’s argument prevails.",
	mapRole: func(r Role) string {
		if r == RoleStudent {
			return ChatUser
		}
		return ChatAssistant
	},
}

var Sage = Persona{
	Role:         RoleSage,
	SystemPrompt: "You are Dr. Sage, a doctoral supervisor. Your persona is insightful, constructive, and ever-so-slightly academic. You are debating a student's idea with Dr. Nova.",
	Concession:   "I concede — Dr Nova’s argument prevails.",
	mapRole: func(r Role) string {
		if r == RoleStudent || r == RoleNova {
			return ChatUser
		}
		return ChatModel
	},
}

// Prompt builds the chat history the advisor receives: its system prompt
// followed by the whole transcript mapped to its chat roles.
func (p Persona) Prompt(transcript []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(transcript)+1)
	out = append(out, ChatMessage{Role: ChatSystem, Content: p.SystemPrompt})
	for _, m := range transcript {
		out = append(out, ChatMessage{Role: p.mapRole(m.Role), Content: m.Content})
	}
	return out
}

// Concedes reports whether reply contains the persona's concession phrase.
func (p Persona) Concedes(reply string) bool {
	return strings.Contains(reply, p.Concession)
}

// FormatTranscript renders messages as "**Name:** content" lines.
func FormatTranscript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("**%s:** %s", m.Role.DisplayName(), m.Content))
	}
	return strings.Join(lines, "\n")
}
