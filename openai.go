package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func newOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by WithRetry so they show up in logs and metrics.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// OpenAIAdvisor answers as Dr. Nova through the OpenAI chat completions API.
type OpenAIAdvisor struct {
	client openai.Client
	model  string
}

// NewOpenAIAdvisor creates an advisor backed by the given OpenAI model.
func NewOpenAIAdvisor(apiKey, baseURL, model string) *OpenAIAdvisor {
	return &OpenAIAdvisor{client: newOpenAIClient(apiKey, baseURL), model: model}
}

func (a *OpenAIAdvisor) Name() string {
	return "openai"
}

func (a *OpenAIAdvisor) Respond(ctx context.Context, history []ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case ChatSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case ChatUser:
			messages = append(messages, openai.UserMessage(m.Content))
		default:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}

	chatCompletion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(a.model),
	})
	if err != nil {
		return "", wrapOpenAIError(err)
	}

	if len(chatCompletion.Choices) == 0 || strings.TrimSpace(chatCompletion.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return chatCompletion.Choices[0].Message.Content, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr := &ProviderError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			perr.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return perr
	}
	return fmt.Errorf("failed to call OpenAI API: %w", err)
}

const summaryPrompt = `Based on the following debate transcript, provide a joint JSON summary in the specified format.
The idea is considered viable unless both advisors explicitly agreed it was "not viable".
Score every rubric criterion as an integer from 1 (weak) to 5 (strong).
"key_points" is a markdown bullet list of the strongest arguments.
"advisor_advice" is concise guidance for the student.

Transcript:
%s`

// OpenAISummarizer asks an OpenAI model for the joint rubric summary using
// structured outputs.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

// NewOpenAISummarizer creates a summarizer backed by the given OpenAI model.
func NewOpenAISummarizer(apiKey, baseURL, model string) *OpenAISummarizer {
	return &OpenAISummarizer{client: newOpenAIClient(apiKey, baseURL), model: model}
}

// summarySchema reflects the JSON schema of Summary for structured outputs.
func summarySchema() (any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&Summary{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return schema, nil
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript []Message) (*Summary, error) {
	schema, err := summarySchema()
	if err != nil {
		return nil, err
	}

	chatCompletion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(summaryPrompt, FormatTranscript(transcript))),
		},
		Model:       openai.ChatModel(s.model),
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "joint_summary",
					Description: openai.String("Joint rubric summary of a dissertation debate"),
					Schema:      schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	if len(chatCompletion.Choices) == 0 || chatCompletion.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	var summary Summary
	if err := json.Unmarshal([]byte(chatCompletion.Choices[0].Message.Content), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse structured response: %w", err)
	}
	summary.Rubric.clamp()
	return &summary, nil
}
