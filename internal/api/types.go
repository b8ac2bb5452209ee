package api

import "time"

// SessionRequest is the optional body of POST /api/v1/sessions
type SessionRequest struct {
	Language string `json:"language"`
}

// SessionResponse carries the bearer token for later calls
type SessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PCMTurnRequest submits raw little-endian 16-bit samples, base64 encoded
type PCMTurnRequest struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        string `json:"pcm"`
}

// ModelsResponse lists the model ids of the completion backend
type ModelsResponse struct {
	Models []string `json:"models"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
