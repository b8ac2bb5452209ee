package usecase

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
)

// Locale selects the language of user-facing texts
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleRU Locale = "ru"
)

// ParseLocale maps a language tag to a supported locale, defaulting to en
func ParseLocale(tag string) Locale {
	if len(tag) >= 2 && (tag[:2] == "ru" || tag[:2] == "RU") {
		return LocaleRU
	}
	return LocaleEN
}

var failureMessages = map[Locale]map[entities.FailureKind]string{
	LocaleEN: {
		entities.FailureNoSpeech:        "Sorry, I could not understand the audio. Please try again.",
		entities.FailureEmptyCompletion: "The assistant produced no response. Please try again.",
		entities.FailureTimeout:         "The request timed out, please retry.",
		entities.FailureBusy:            "The assistant is busy, please retry in a moment.",
		entities.FailureSynthesis:       "Sorry, I could not voice the reply.",
	},
	LocaleRU: {
		entities.FailureNoSpeech:        "Не удалось распознать речь. Попробуйте еще раз.",
		entities.FailureEmptyCompletion: "Ассистент не дал ответа. Попробуйте еще раз.",
		entities.FailureTimeout:         "Время ожидания истекло, попробуйте еще раз.",
		entities.FailureBusy:            "Ассистент занят, попробуйте чуть позже.",
		entities.FailureSynthesis:       "Не удалось озвучить ответ.",
	},
}

var genericFailure = map[Locale]string{
	LocaleEN: "Sorry, something went wrong while processing your voice message. Please try again.",
	LocaleRU: "Извините, произошла ошибка при обработке голосового сообщения. Попробуйте еще раз.",
}

// FailureNotice is the short localized text for a failure kind
func FailureNotice(kind entities.FailureKind, locale Locale) string {
	if _, ok := genericFailure[locale]; !ok {
		locale = LocaleEN
	}
	if msg, ok := failureMessages[locale][kind]; ok {
		return msg
	}
	return genericFailure[locale]
}

// UserMessage renders the text shown to the user for a finished turn.
// Failed turns get a message chosen by kind; remote bodies never appear.
func UserMessage(turn *entities.VoiceTurn, locale Locale) string {
	if turn.Status != entities.TurnStatusFailed {
		return turn.DisplayText()
	}

	msg := FailureNotice(turn.FailureKind(), locale)
	if turn.FailureKind() == entities.FailureSynthesis && turn.HasReply() {
		return turn.DisplayText() + "\n\n" + msg
	}
	return msg
}

// NewTurnResultMessage converts a finished turn into its wire form
func NewTurnResultMessage(turn *entities.VoiceTurn, locale Locale, includeAudio bool) domain.TurnResultMessage {
	msg := domain.TurnResultMessage{
		Type:             "turn_result",
		TurnID:           turn.ID,
		SessionID:        turn.SessionID,
		Status:           string(turn.Status),
		Transcript:       turn.Transcript,
		Reply:            turn.CompletionText,
		ProcessingTimeMs: turn.Duration().Milliseconds(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}

	if turn.HasReply() {
		msg.DisplayText = turn.DisplayText()
	}

	if turn.ResponseAudio != nil {
		msg.AudioName = turn.ResponseAudio.Name
		msg.AudioContentType = turn.ResponseAudio.ContentType
		if includeAudio {
			msg.AudioData = base64.StdEncoding.EncodeToString(turn.ResponseAudio.Data)
		}
	}

	if turn.Status == entities.TurnStatusFailed {
		msg.Error = &domain.TurnErrorBody{
			Kind:    string(turn.FailureKind()),
			Message: UserMessage(turn, locale),
		}
	}

	return msg
}

// BotReply renders the chat answer for a successful or partially successful turn
func BotReply(turn *entities.VoiceTurn, locale Locale) string {
	if locale == LocaleRU {
		return fmt.Sprintf("Вы сказали: %s\n\nМой ответ: %s", turn.Transcript, turn.CompletionText)
	}
	return fmt.Sprintf("You said: %s\n\nMy answer: %s", turn.Transcript, turn.CompletionText)
}
