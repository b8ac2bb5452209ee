package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	DefaultMistralModel   = "mistral-small-latest"
	DefaultTimeout        = 30 * time.Second
)

// MistralConfig holds configuration for the MistralClient
// Required fields:
// - APIKey: bearer token for the completion API
// Optional fields with defaults:
// - BaseURL: any OpenAI-compatible chat completions root (default: "https://api.mistral.ai/v1")
// - Model: model id used when the caller does not set one (default: "mistral-small-latest")
// - Timeout: upper bound of one request (default: 30s)
type MistralConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// MistralClient is a chat-completions client that talks plain JSON over HTTP.
// It never retries and keeps no state between calls.
type MistralClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.CompletionClient = (*MistralClient)(nil)

type chatCompletionRequest struct {
	Model    string                     `json:"model"`
	Messages []repositories.ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ValidateMistralConfig validates the MistralConfig
func ValidateMistralConfig(config MistralConfig) error {
	if strings.TrimSpace(config.APIKey) == "" {
		return domain.ErrNoAPIKey
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	return nil
}

// NewMistralConfigFromEnv reads MISTRAL_* variables
func NewMistralConfigFromEnv() MistralConfig {
	config := MistralConfig{
		APIKey:  os.Getenv("MISTRAL_API_KEY"),
		BaseURL: os.Getenv("MISTRAL_BASE_URL"),
		Model:   os.Getenv("COMPLETION_MODEL"),
	}

	if timeoutStr := os.Getenv("COMPLETION_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}

	return config
}

// NewMistralClient creates a new completion client
func NewMistralClient(config MistralConfig, logger *zap.Logger) (*MistralClient, error) {
	if err := ValidateMistralConfig(config); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
		logger.Info("Using default completion base URL", zap.String("baseURL", baseURL))
	}

	model := config.Model
	if model == "" {
		model = DefaultMistralModel
		logger.Info("Using default completion model", zap.String("model", model))
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
		logger.Info("Using default completion timeout", zap.Duration("timeout", timeout))
	}

	return &MistralClient{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Model returns the default model id
func (c *MistralClient) Model() string {
	return c.model
}

// Complete posts the messages to /chat/completions and returns the first choice
func (c *MistralClient) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	if request.Model == "" || len(request.Messages) == 0 {
		return "", domain.ErrInvalidRequest
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    request.Model,
		Messages: request.Messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	respBody, err := c.do(httpReq)
	if err != nil {
		c.logger.Warn("Completion request failed",
			zap.String("model", request.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyCompletion
	}

	c.logger.Debug("Completion received",
		zap.String("model", request.Model),
		zap.Int("choices", len(resp.Choices)),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the ids from GET /models
func (c *MistralClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	respBody, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp modelListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// do sends an authorized request and returns the body of a 2xx answer
func (c *MistralClient) do(httpReq *http.Request) ([]byte, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := domain.NewRemoteAPIError(resp.StatusCode, respBody)
		c.logger.Error("Completion API returned error",
			zap.String("path", httpReq.URL.Path),
			zap.Int("statusCode", apiErr.StatusCode),
			zap.String("response", apiErr.Body))
		return nil, apiErr
	}

	return respBody, nil
}
