package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vocalis/server/internal/audio"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeTurnProgress   MessageType = "turn_progress"
	MessageTypeTurnResult     MessageType = "turn_result"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
)

// Error codes sent to the peer
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotListening   = "not_listening"
	ErrorCodeTurnInProgress = "turn_in_progress"
	ErrorCodeAudioTooLarge  = "audio_too_large"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ListeningStartMessage opens a recording. Binary frames that follow are the audio.
// Format is pcm16, wav or ogg_opus; empty means detect from the data.
type ListeningStartMessage struct {
	BaseMessage
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Language   string `json:"language,omitempty"`
}

// ListeningEndMessage closes a recording and submits it as one turn
type ListeningEndMessage struct {
	BaseMessage
}

// ListeningAckMessage confirms listening_start and listening_end
type ListeningAckMessage struct {
	BaseMessage
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
}

// TurnProgressMessage reports the stage a turn just entered
type TurnProgressMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		var msg ListeningEndMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening end message: %w", err)
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateListeningStart validates listening start message fields
func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	switch audio.Format(msg.Format) {
	case audio.FormatAuto, audio.FormatWAV, audio.FormatOggOpus, audio.FormatOther:
	case audio.FormatPCM16:
		if msg.SampleRate < 8000 || msg.SampleRate > 48000 {
			return fmt.Errorf("sample_rate must be between 8000 and 48000")
		}
	default:
		return fmt.Errorf("format must be one of: pcm16, wav, ogg_opus, other")
	}

	if msg.Channels < 0 || msg.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2")
	}

	return nil
}

// Input builds the pipeline input for the recorded bytes
func (msg *ListeningStartMessage) Input(data []byte) audio.Input {
	channels := msg.Channels
	if channels == 0 {
		channels = 1
	}
	return audio.Input{
		Format:     audio.Format(msg.Format),
		Data:       data,
		SampleRate: msg.SampleRate,
		Channels:   channels,
	}
}

func newBaseMessage(t MessageType) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBaseMessage(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBaseMessage(MessageTypePong),
		Data:        data,
	}
}

// CreateAckMessage confirms a listening_start or listening_end
func CreateAckMessage(t MessageType, sessionID, message string) *ListeningAckMessage {
	return &ListeningAckMessage{
		BaseMessage: newBaseMessage(t),
		SessionID:   sessionID,
		Message:     message,
	}
}

// CreateProgressMessage reports a stage of a running turn
func CreateProgressMessage(sessionID, stage string) *TurnProgressMessage {
	return &TurnProgressMessage{
		BaseMessage: newBaseMessage(MessageTypeTurnProgress),
		SessionID:   sessionID,
		Stage:       stage,
	}
}
