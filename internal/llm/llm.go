// Package llm talks to an OpenAI-compatible API for ACE evaluation,
// speech transcription and narrative feedback.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cast"

	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/llm/prompts"
	"github.com/pavelanni/acegrader/internal/model"
)

var (
	// ErrUnavailable is returned when no API key is configured.
	ErrUnavailable = errors.New("llm: client not configured")
	// ErrMalformedResponse is returned when the model output holds no JSON object.
	ErrMalformedResponse = errors.New("llm: response is not a JSON object")
)

const (
	msgUnavailable     = "AI model unavailable."
	msgNoText          = "No text provided for evaluation."
	msgDefaultOverall  = "Evaluation complete."
	msgFeedbackNoSetup = "AI feedback unavailable due to configuration issue."
	msgFeedbackFailed  = "AI feedback generation failed."

	systemPrompt = "You are an academic evaluator using the ACE model."
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api                *openai.Client
	model              string
	transcriptionModel string
	temperature        float32
	maxTokens          int
	variant            prompts.PromptVariant
	timeout            time.Duration
}

// New creates a client. Without an API key the client is unavailable and
// every call degrades to its fallback.
func New(cfg config.LLMSettings) *Client {
	variant := prompts.PromptVariant(cfg.PromptVariant)
	if !prompts.IsValidVariant(cfg.PromptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", cfg.PromptVariant)
		variant = prompts.PromptStandard
	}
	c := &Client{
		model:              cfg.Model,
		transcriptionModel: cfg.TranscriptionModel,
		temperature:        cfg.Temperature,
		maxTokens:          cfg.MaxTokens,
		variant:            variant,
		timeout:            cfg.Timeout,
	}
	if cfg.APIKey == "" {
		slog.Warn("LLM API key not set, AI scoring disabled")
		return c
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c.api = openai.NewClientWithConfig(oc)
	return c
}

// Available reports whether the client can reach a model.
func (c *Client) Available() bool {
	return c != nil && c.api != nil
}

// TranscriptionModel names the speech-to-text model.
func (c *Client) TranscriptionModel() string {
	return c.transcriptionModel
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Available() {
		return ErrUnavailable
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	return nil
}

// Evaluate scores a response on the three ACE dimensions. On any failure it
// returns the zero-score fallback evaluation together with the error.
func (c *Client) Evaluate(ctx context.Context, req model.EvalRequest) (model.Evaluation, error) {
	if !c.Available() {
		return model.FallbackEvaluation(msgUnavailable), ErrUnavailable
	}
	if strings.TrimSpace(req.Text) == "" {
		return model.FallbackEvaluation(msgNoText), nil
	}

	prompt, err := prompts.BuildEvalPrompt(c.variant, prompts.EvalData{
		Answer:   req.Text,
		Spoken:   req.Spoken,
		Criteria: req.Criteria,
	})
	if err != nil {
		return model.FallbackEvaluation("AI error: " + err.Error()), fmt.Errorf("build prompt: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return model.FallbackEvaluation("AI error: " + err.Error()), fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.FallbackEvaluation("AI error: no choices"), fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return ParseEvaluation(raw)
}

// ParseEvaluation coerces model output into an Evaluation. Text around the
// outermost JSON object is ignored; missing or mistyped fields default to
// zero scores and empty feedback.
func ParseEvaluation(raw string) (model.Evaluation, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		slog.Warn("LLM response not valid JSON", "error", err)
	}
	ev := model.Evaluation{
		AnalysisScore:         toFloat(fields["analysis_score"]),
		CommunicationScore:    toFloat(fields["communication_score"]),
		EvaluationScore:       toFloat(fields["evaluation_score"]),
		AnalysisFeedback:      toString(fields["analysis_feedback"], ""),
		CommunicationFeedback: toString(fields["communication_feedback"], ""),
		EvaluationFeedback:    toString(fields["evaluation_feedback"], ""),
		OverallFeedback:       toString(fields["overall_feedback"], msgDefaultOverall),
	}
	return ev, err
}

func decodeObject(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err == nil && fields != nil {
		return fields, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return map[string]any{}, ErrMalformedResponse
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil || fields == nil {
		return map[string]any{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fields, nil
}

func toFloat(v any) float64 {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return f
}

func toString(v any, def string) string {
	if v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Transcribe converts speech to text with the configured transcription model.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}
	if format == "" {
		format = "wav"
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "input_audio." + format,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	slog.Info("transcription complete", "chars", len(text))
	return text, nil
}

// GenerateText produces free-form text. On failure it returns a fixed
// fallback sentence together with the error.
func (c *Client) GenerateText(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if !c.Available() {
		return msgFeedbackNoSetup, ErrUnavailable
	}
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return msgFeedbackFailed, fmt.Errorf("LLM text generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return msgFeedbackFailed, fmt.Errorf("LLM returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Narrate writes a short feedback paragraph for a student report. On
// failure the fallback sentence is returned together with the error.
func (c *Client) Narrate(ctx context.Context, data prompts.FeedbackData) (string, error) {
	prompt, err := prompts.BuildFeedbackPrompt(data)
	if err != nil {
		return msgFeedbackFailed, err
	}
	return c.GenerateText(ctx, "You write concise, supportive feedback for students.", prompt, 300)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
