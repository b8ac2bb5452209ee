package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

func newTestMistralClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *MistralClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewMistralClient(MistralConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: timeout,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create MistralClient: %v", err)
	}
	return client
}

func testRequest() repositories.CompletionRequest {
	return repositories.CompletionRequest{
		Model: DefaultMistralModel,
		Messages: []repositories.ChatMessage{
			{Role: repositories.SystemRole, Content: "You are a helpful voice assistant."},
			{Role: repositories.UserRole, Content: "hello"},
		},
	}
}

func TestNewMistralClient_RequiresAPIKey(t *testing.T) {
	_, err := NewMistralClient(MistralConfig{}, zaptest.NewLogger(t))
	if !errors.Is(err, domain.ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewMistralClient_Defaults(t *testing.T) {
	client, err := NewMistralClient(MistralConfig{APIKey: "k"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create MistralClient: %v", err)
	}

	if client.baseURL != defaultMistralBaseURL {
		t.Errorf("Expected base URL %s, got %s", defaultMistralBaseURL, client.baseURL)
	}
	if client.Model() != DefaultMistralModel {
		t.Errorf("Expected model %s, got %s", DefaultMistralModel, client.Model())
	}
	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %s, got %s", DefaultTimeout, client.httpClient.Timeout)
	}
}

func TestMistralClient_Complete(t *testing.T) {
	client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got %q", got)
		}

		var body chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if body.Model != DefaultMistralModel {
			t.Errorf("Expected model %s, got %s", DefaultMistralModel, body.Model)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != repositories.SystemRole || body.Messages[1].Content != "hello" {
			t.Errorf("Messages not sent in order: %+v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there!"}},{"message":{"role":"assistant","content":"ignored"}}]}`))
	}, 0)

	reply, err := client.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "Hi there!" {
		t.Errorf("Expected first choice, got %q", reply)
	}
}

func TestMistralClient_CompleteErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantEmpty  bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"message":"rate limited"}`, wantStatus: 429},
		{name: "server error", status: http.StatusInternalServerError, body: `internal`, wantStatus: 500},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"bad key"}`, wantStatus: 401},
		{name: "empty choices", status: http.StatusOK, body: `{"choices":[]}`, wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, 0)

			_, err := client.Complete(context.Background(), testRequest())
			if err == nil {
				t.Fatal("Expected error")
			}

			if tt.wantEmpty {
				if !errors.Is(err, domain.ErrEmptyCompletion) {
					t.Errorf("Expected ErrEmptyCompletion, got %v", err)
				}
			} else {
				var apiErr *domain.RemoteAPIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("Expected RemoteAPIError, got %v", err)
				}
				if apiErr.StatusCode != tt.wantStatus {
					t.Errorf("Expected status %d, got %d", tt.wantStatus, apiErr.StatusCode)
				}
				if apiErr.Body != tt.body {
					t.Errorf("Expected body %q, got %q", tt.body, apiErr.Body)
				}
				if strings.Contains(err.Error(), "test-key") {
					t.Error("Error must not contain the API key")
				}
			}

			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("Expected exactly one request, got %d", n)
			}
		})
	}
}

func TestMistralClient_RejectsInvalidRequest(t *testing.T) {
	var calls int32
	client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, 0)

	_, err := client.Complete(context.Background(), repositories.CompletionRequest{Model: DefaultMistralModel})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}

	_, err = client.Complete(context.Background(), repositories.CompletionRequest{
		Messages: []repositories.ChatMessage{{Role: repositories.UserRole, Content: "x"}},
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}

	if calls != 0 {
		t.Errorf("Invalid requests must not reach the network, got %d calls", calls)
	}
}

func TestMistralClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := client.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Expected a timeout error, got %v", err)
	}
}

func TestMistralClient_ListModels(t *testing.T) {
	client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		w.Write([]byte(`{"object":"list","data":[{"id":"mistral-small-latest"},{"id":"mistral-large-latest"}]}`))
	}, 0)

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0] != "mistral-small-latest" || models[1] != "mistral-large-latest" {
		t.Errorf("Unexpected models %v", models)
	}
}

func TestMistralClient_ListModelsError(t *testing.T) {
	client := newTestMistralClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`forbidden`))
	}, 0)

	_, err := client.ListModels(context.Background())
	var apiErr *domain.RemoteAPIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 RemoteAPIError, got %v", err)
	}
}
