package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRemoteAPIError(t *testing.T) {
	err := NewRemoteAPIError(429, []byte(`{"message":"slow down"}`))

	if !err.IsRateLimited() {
		t.Error("Expected 429 to be rate limited")
	}
	if err.IsServerError() {
		t.Error("429 is not a server error")
	}
	if strings.Contains(err.Error(), "slow down") {
		t.Error("Error string must not include the response body")
	}

	wrapped := fmt.Errorf("complete: %w", err)
	var apiErr *RemoteAPIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("Expected errors.As to find RemoteAPIError")
	}
	if apiErr.Body != `{"message":"slow down"}` {
		t.Errorf("Unexpected body %q", apiErr.Body)
	}
}

func TestRemoteAPIErrorTruncatesBody(t *testing.T) {
	body := []byte(strings.Repeat("x", maxErrorBodyBytes*2))
	err := NewRemoteAPIError(500, body)

	if len(err.Body) != maxErrorBodyBytes {
		t.Errorf("Expected body truncated to %d, got %d", maxErrorBodyBytes, len(err.Body))
	}
	if !err.IsServerError() {
		t.Error("Expected 500 to be a server error")
	}
}

func TestRemoteAPIErrorTruncatesOnRuneBoundary(t *testing.T) {
	// one ASCII byte shifts every two-byte Cyrillic letter across the limit
	body := []byte("x" + strings.Repeat("я", maxErrorBodyBytes))
	err := NewRemoteAPIError(502, body)

	if !utf8.ValidString(err.Body) {
		t.Error("Truncated body is not valid UTF-8")
	}
	if len(err.Body) != maxErrorBodyBytes-1 {
		t.Errorf("Expected %d bytes, got %d", maxErrorBodyBytes-1, len(err.Body))
	}
}

func TestEngineErrorsUnwrap(t *testing.T) {
	cause := errors.New("engine exploded")

	tests := []struct {
		name string
		err  error
	}{
		{"transcription", &TranscriptionError{Engine: "whisper", Err: cause}},
		{"synthesis", &SynthesisError{Engine: "elevenlabs", Language: "ru", Err: cause}},
		{"io", &IOError{Op: "write", Path: "/tmp/x", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Errorf("%v should unwrap to cause", tt.err)
			}
		})
	}
}
