package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig holds configuration for the GeminiClient
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiClient implements CompletionClient using Google's Gemini API.
// System messages become the system instruction; assistant messages map to the model role.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

var _ repositories.CompletionClient = (*GeminiClient)(nil)

// NewGeminiConfigFromEnv reads GEMINI_* variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
		Model:   os.Getenv("COMPLETION_MODEL"),
	}
	if timeoutStr := os.Getenv("COMPLETION_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}
	return config
}

// NewGeminiClient creates a new Gemini completion client
func NewGeminiClient(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, domain.ErrNoAPIKey
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
		logger.Info("Using default completion timeout", zap.Duration("timeout", timeout))
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = DefaultGeminiModel
		logger.Info("Using default completion model", zap.String("model", model))
	}

	return &GeminiClient{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the default model id
func (g *GeminiClient) Model() string {
	return g.model
}

// Complete sends the conversation and returns the text of the first candidate
func (g *GeminiClient) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	if request.Model == "" || len(request.Messages) == 0 {
		return "", domain.ErrInvalidRequest
	}

	contents, system := convertToGeminiFormat(request.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	response, err := g.client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return "", g.mapError(err)
	}

	if len(response.Candidates) == 0 {
		return "", domain.ErrEmptyCompletion
	}

	return response.Text(), nil
}

// ListModels returns the model names of the first page
func (g *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx, nil)
	if err != nil {
		return nil, g.mapError(err)
	}

	ids := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

func (g *GeminiClient) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		g.logger.Error("Completion API returned error",
			zap.Int("statusCode", apiErr.Code),
			zap.String("response", apiErr.Message))
		return domain.NewRemoteAPIError(apiErr.Code, []byte(apiErr.Message))
	}
	return fmt.Errorf("completion request failed: %w", err)
}

// convertToGeminiFormat splits system messages out and maps the rest to Gemini roles
func convertToGeminiFormat(messages []repositories.ChatMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case repositories.SystemRole:
			system = append(system, msg.Content)
		case repositories.AssistantRole:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return contents, strings.Join(system, "\n")
}
