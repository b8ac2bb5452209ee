package stt

import (
	"context"
	"fmt"
	"os"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/audio"
)

const defaultGoogleLanguage = "ru-RU"

// GoogleSTTConfig holds configuration for GoogleSpeechToText
type GoogleSTTConfig struct {
	LanguageCode string
	Model        string
	Encoding     string
}

// GoogleSpeechToText implements SpeechToText with Google Cloud Speech synchronous recognition
type GoogleSpeechToText struct {
	client       *speech.Client
	languageCode string
	model        string
	encoding     speechpb.RecognitionConfig_AudioEncoding
	logger       *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSTTConfigFromEnv reads GOOGLE_STT_* variables
func NewGoogleSTTConfigFromEnv() GoogleSTTConfig {
	return GoogleSTTConfig{
		LanguageCode: os.Getenv("GOOGLE_STT_LANGUAGE"),
		Model:        os.Getenv("GOOGLE_STT_MODEL"),
		Encoding:     os.Getenv("GOOGLE_STT_ENCODING"),
	}
}

// NewGoogleSpeechToText creates the client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, config GoogleSTTConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	encodingName := config.Encoding
	if encodingName == "" {
		encodingName = "LINEAR16"
	}
	encoding, err := getAudioEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	languageCode := config.LanguageCode
	if languageCode == "" {
		languageCode = defaultGoogleLanguage
		logger.Info("Using default recognition language", zap.String("languageCode", languageCode))
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleSpeechToText{
		client:       client,
		languageCode: languageCode,
		model:        config.Model,
		encoding:     encoding,
		logger:       logger,
	}, nil
}

// Name implements repositories.SpeechToText
func (g *GoogleSpeechToText) Name() string {
	return "google-speech"
}

// TranscribeFile implements repositories.SpeechToText
func (g *GoogleSpeechToText) TranscribeFile(ctx context.Context, audioPath string) ([]repositories.Segment, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	info, err := audio.ParseWAVInfo(data)
	if err != nil {
		return nil, fmt.Errorf("google speech expects WAV input: %w", err)
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.encoding,
			SampleRateHertz:            int32(info.SampleRate),
			AudioChannelCount:          int32(info.Channels),
			LanguageCode:               g.languageCode,
			Model:                      g.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recognize audio: %w", err)
	}

	return segmentsFromResults(resp.GetResults()), nil
}

// Close releases the gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func segmentsFromResults(results []*speechpb.SpeechRecognitionResult) []repositories.Segment {
	segments := make([]repositories.Segment, 0, len(results))
	for _, result := range results {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		segments = append(segments, repositories.Segment{
			End:  result.GetResultEndTime().AsDuration(),
			Text: alternatives[0].GetTranscript(),
		})
	}
	for i := 1; i < len(segments); i++ {
		segments[i].Start = segments[i-1].End
	}
	return segments
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
