package domain

// TurnResultMessage is the wire form of a finished voice turn for the web surfaces
type TurnResultMessage struct {
	Type             string         `json:"type"`
	TurnID           string         `json:"turn_id"`
	SessionID        string         `json:"session_id"`
	Status           string         `json:"status"`
	DisplayText      string         `json:"display_text,omitempty"`
	Transcript       string         `json:"transcript,omitempty"`
	Reply            string         `json:"reply,omitempty"`
	AudioData        string         `json:"audio_data,omitempty"` // base64 encoded
	AudioName        string         `json:"audio_name,omitempty"`
	AudioContentType string         `json:"audio_content_type,omitempty"`
	Error            *TurnErrorBody `json:"error,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Timestamp        string         `json:"timestamp"`
}

// TurnErrorBody is the user-facing part of a failed turn.
// Message is safe to show; remote response bodies never appear here.
type TurnErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
