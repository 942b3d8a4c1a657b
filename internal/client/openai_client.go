package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/pipeline"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     zerolog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a chat completions client
func NewOpenAIClient(cfg *config.OpenAIConfig, logger zerolog.Logger) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  logging.Component(logger, "openai"),
	}
}

// Generate sends one chat completion and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts pipeline.TextOptions) (string, error) {
	var messages []chatMessage
	if opts.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONResponse {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: openai request failed: %w", pipeline.ErrService, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", pipeline.ErrService, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: openai API error (status %d): %s", pipeline.ErrService, resp.StatusCode, string(respBody))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %w", pipeline.ErrService, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", pipeline.ErrService)
	}

	c.logger.Debug().
		Str("model", chatResp.Model).
		Int("total_tokens", chatResp.Usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("chat completion finished")

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
