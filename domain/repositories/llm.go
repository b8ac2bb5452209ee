package repositories

import "context"

// CompletionClient abstracts a remote chat-completion backend
type CompletionClient interface {
	// Complete sends one request and returns the text of the first choice
	Complete(ctx context.Context, request CompletionRequest) (string, error)
	// ListModels returns the model ids the backend accepts
	ListModels(ctx context.Context) ([]string, error)
}

// CompletionRequest is sent verbatim; message order is preserved
type CompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	SystemRole    Role = "system"
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)
