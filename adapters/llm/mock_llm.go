package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocalis/server/domain/repositories"
)

// MockCompletionClient answers without a network, for development and tests
type MockCompletionClient struct {
	// Reply is returned as is when set; otherwise the user message is echoed
	Reply  string
	Err    error
	Models []string

	mu       sync.Mutex
	requests []repositories.CompletionRequest
}

var _ repositories.CompletionClient = (*MockCompletionClient)(nil)

// NewMockCompletionClient creates a mock that echoes the user message
func NewMockCompletionClient() *MockCompletionClient {
	return &MockCompletionClient{Models: []string{"mock-small"}}
}

// Complete implements repositories.CompletionClient
func (m *MockCompletionClient) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, request)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}

	var last string
	for _, msg := range request.Messages {
		if msg.Role == repositories.UserRole {
			last = msg.Content
		}
	}
	return fmt.Sprintf("You said: %s", last), nil
}

// ListModels implements repositories.CompletionClient
func (m *MockCompletionClient) ListModels(ctx context.Context) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Models, nil
}

// Requests returns a copy of every request received so far
func (m *MockCompletionClient) Requests() []repositories.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repositories.CompletionRequest(nil), m.requests...)
}

// Calls returns how many times Complete was invoked
func (m *MockCompletionClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
