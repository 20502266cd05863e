package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"echomind/config"
	"echomind/models"
)

const completionsPath = "/openai/v1/chat/completions"

// APIError is a completion endpoint failure, carrying the HTTP status code so
// callers can distinguish rate limits from everything else. Transport-level
// failures (connection refused, timeout) carry Status 0.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("groq: %s", e.Message)
	}
	return fmt.Sprintf("groq: status %d: %s", e.Status, e.Message)
}

// IsRateLimit reports whether err is an APIError with HTTP status 429. Only
// these failures are considered transient and model-substitutable.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// GroqService talks to the Groq chat completions endpoint.
type GroqService struct {
	cfg    *config.Config
	client *http.Client
}

// NewGroqService creates a Groq completion client from injected configuration.
func NewGroqService(cfg *config.Config) *GroqService {
	return &GroqService{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Groq.TimeoutSeconds) * time.Second,
		},
	}
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type groqResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type groqErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the full ordered message list to the given model and returns
// the reply as a unit. Exactly one outbound call is made; retry and fallback
// are the caller's concern.
func (s *GroqService) Complete(ctx context.Context, model string, messages []models.Message) (string, error) {
	groqMessages := make([]groqMessage, 0, len(messages)+1)

	// One synthesized system message carries the persona instructions.
	groqMessages = append(groqMessages, groqMessage{
		Role:    "system",
		Content: s.cfg.Chat.SystemPrompt,
	})

	for _, msg := range messages {
		role := models.RoleUser
		if msg.Role == models.RoleAssistant {
			role = "assistant"
		}
		groqMessages = append(groqMessages, groqMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	reqBody := groqRequest{
		Model:       model,
		Messages:    groqMessages,
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   s.cfg.MaxTokensFor(model),
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	url := s.cfg.Groq.BaseURL + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Groq.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Status: resp.StatusCode, Message: "failed to read response body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Message: parseErrorBody(body)}
	}

	var groqResp groqResponse
	if err := json.Unmarshal(body, &groqResp); err != nil {
		return "", &APIError{Status: resp.StatusCode, Message: "failed to parse response"}
	}

	if len(groqResp.Choices) == 0 {
		return "", &APIError{Status: resp.StatusCode, Message: "empty completion response"}
	}

	return groqResp.Choices[0].Message.Content, nil
}

// parseErrorBody extracts the structured error message from a failure body,
// falling back to a generic message when the body is empty or unparsable.
func parseErrorBody(body []byte) string {
	var errResp groqErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return "unknown error"
}
