package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionJSON(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func TestOpenAIAdvisorRespond(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionJSON("The method is weak."))
	}))
	defer srv.Close()

	a := NewOpenAIAdvisor("sk-test", srv.URL+"/", "gpt-4-turbo")
	reply, err := a.Respond(context.Background(), Nova.Prompt([]Message{
		StudentMessage("idea"),
		{Role: RoleSage, Content: "It is promising."},
	}))
	require.NoError(t, err)

	assert.Equal(t, "The method is weak.", reply)
	assert.Equal(t, "gpt-4-turbo", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestOpenAIAdvisorRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	a := NewOpenAIAdvisor("sk-test", srv.URL+"/", "gpt-4-turbo")
	_, err := a.Respond(context.Background(), []ChatMessage{{Role: ChatUser, Content: "hi"}})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, 2*time.Second, perr.RetryAfter)
	assert.True(t, isRetryable(err))
}

func TestOpenAIAdvisorEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionJSON("   "))
	}))
	defer srv.Close()

	_, err := NewOpenAIAdvisor("sk-test", srv.URL+"/", "m").Respond(context.Background(), []ChatMessage{{Role: ChatUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAISummarizer(t *testing.T) {
	summary := testSummary()
	summary.Rubric.Publishability = 7
	content, err := json.Marshal(summary)
	require.NoError(t, err)

	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionJSON(string(content)))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer("sk-test", srv.URL+"/", "gpt-4o-mini")
	got, err := s.Summarize(context.Background(), []Message{
		StudentMessage("idea"),
		{Role: RoleNova, Content: "weak"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, got.Rubric.Publishability, "scores are clamped to 1-5")
	assert.Equal(t, summary.KeyPoints, got.KeyPoints)
	assert.True(t, got.Viable)

	format, ok := req["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	messages := req["messages"].([]any)
	prompt := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, prompt, "**Student:** Student Idea: idea")
	assert.Contains(t, prompt, "**Dr. Nova:** weak")
}
