package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiAdvisor answers as Dr. Sage through the Gemini API.
type GeminiAdvisor struct {
	client *genai.Client
	model  string
}

// NewGeminiAdvisor creates an advisor backed by the given Gemini model. An
// empty baseURL uses the public Gemini API endpoint.
func NewGeminiAdvisor(ctx context.Context, apiKey, baseURL, model string) (*GeminiAdvisor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAdvisor{client: client, model: model}, nil
}

func (a *GeminiAdvisor) Name() string {
	return "gemini"
}

func (a *GeminiAdvisor) Respond(ctx context.Context, history []ChatMessage) (string, error) {
	system, contents := toGeminiContents(history)
	if len(contents) == 0 {
		return "", errors.New("gemini: empty conversation")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return "", wrapGeminiError(err)
	}

	text := geminiText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// toGeminiContents splits the system prompt from the conversation and maps
// chat roles to Gemini's "user" and "model". The last content is the prompt
// being answered, everything before it is history.
func toGeminiContents(history []ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		switch m.Role {
		case ChatSystem:
			system = append(system, m.Content)
			continue
		case ChatModel, ChatAssistant:
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return strings.Join(system, "\n\n"), contents
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErrPtr.Code, Err: err}
	}
	return fmt.Errorf("failed to call Gemini API: %w", err)
}
