package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig holds configuration for the OpenAIClient.
// BaseURL may point at any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements CompletionClient with the go-openai SDK
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ repositories.CompletionClient = (*OpenAIClient)(nil)

// NewOpenAIConfigFromEnv reads OPENAI_* variables
func NewOpenAIConfigFromEnv() OpenAIConfig {
	config := OpenAIConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("COMPLETION_MODEL"),
	}
	if timeoutStr := os.Getenv("COMPLETION_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}
	return config
}

// NewOpenAIClient creates a new OpenAI-compatible completion client
func NewOpenAIClient(config OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, domain.ErrNoAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
		logger.Info("Using default completion timeout", zap.Duration("timeout", timeout))
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	model := config.Model
	if model == "" {
		model = DefaultOpenAIModel
		logger.Info("Using default completion model", zap.String("model", model))
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the default model id
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends the messages and returns the first choice
func (c *OpenAIClient) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	if request.Model == "" || len(request.Messages) == 0 {
		return "", domain.ErrInvalidRequest
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, m := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    request.Model,
		Messages: messages,
	})
	if err != nil {
		return "", c.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the model ids served by the backend
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// mapError turns SDK errors carrying an HTTP status into RemoteAPIError
func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error("Completion API returned error",
			zap.Int("statusCode", apiErr.HTTPStatusCode),
			zap.String("response", apiErr.Message))
		return domain.NewRemoteAPIError(apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		c.logger.Error("Completion API returned error",
			zap.Int("statusCode", reqErr.HTTPStatusCode),
			zap.Error(reqErr.Err))
		return domain.NewRemoteAPIError(reqErr.HTTPStatusCode, reqErr.Body)
	}

	return fmt.Errorf("completion request failed: %w", err)
}
