package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain/repositories"
)

const (
	defaultTranslateBaseURL = "https://translate.google.com"

	// maxChunkRunes is the longest text the translate endpoint speaks in one request
	maxChunkRunes = 100
)

// GoogleTranslateConfig holds configuration for GoogleTranslateTTS
// Optional fields with defaults:
// - BaseURL: translate host (default: "https://translate.google.com")
// - Timeout: upper bound of the whole synthesis (default: 60s)
type GoogleTranslateConfig struct {
	BaseURL string
	Timeout time.Duration
}

// GoogleTranslateTTS speaks text through the public translate_tts endpoint.
// Long text is split into chunks whose mp3 answers are concatenated.
type GoogleTranslateTTS struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*GoogleTranslateTTS)(nil)

// NewGoogleTranslateConfigFromEnv reads GTTS_* variables
func NewGoogleTranslateConfigFromEnv() GoogleTranslateConfig {
	config := GoogleTranslateConfig{
		BaseURL: os.Getenv("GTTS_BASE_URL"),
	}
	if timeoutStr := os.Getenv("SYNTHESIS_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}
	return config
}

// NewGoogleTranslateTTS creates the engine
func NewGoogleTranslateTTS(config GoogleTranslateConfig, logger *zap.Logger) *GoogleTranslateTTS {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTranslateBaseURL
		logger.Info("Using default translate base URL", zap.String("baseURL", baseURL))
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GoogleTranslateTTS{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name implements repositories.TextToSpeech
func (g *GoogleTranslateTTS) Name() string {
	return "gtts"
}

// ContentType implements repositories.TextToSpeech
func (g *GoogleTranslateTTS) ContentType() string {
	return mpegContentType
}

// SynthesizeToFile implements repositories.TextToSpeech
func (g *GoogleTranslateTTS) SynthesizeToFile(ctx context.Context, text, languageCode, outPath string) (string, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return "", fmt.Errorf("text cannot be empty")
	}

	finalPath := withExt(outPath, ".mp3")
	f, err := os.OpenFile(finalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}

	var total int64
	for i, chunk := range chunks {
		n, err := g.fetchChunk(ctx, f, chunk, languageCode, i, len(chunks))
		if err != nil {
			f.Close()
			os.Remove(finalPath)
			return "", err
		}
		total += n
	}

	if err := f.Close(); err != nil {
		os.Remove(finalPath)
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	g.logger.Debug("Finished writing audio",
		zap.String("path", finalPath),
		zap.Int("chunks", len(chunks)),
		zap.Int64("bytes", total))

	return finalPath, nil
}

func (g *GoogleTranslateTTS) fetchChunk(ctx context.Context, w io.Writer, chunk, languageCode string, idx, total int) (int64, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("q", chunk)
	query.Set("tl", languageCode)
	query.Set("client", "tw-ob")
	query.Set("total", strconv.Itoa(total))
	query.Set("idx", strconv.Itoa(idx))
	query.Set("textlen", strconv.Itoa(len([]rune(chunk))))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_tts?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Error("Translate TTS returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.Int("chunk", idx))
		return 0, fmt.Errorf("translate tts returned status %d for chunk %d", resp.StatusCode, idx)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read audio chunk: %w", err)
	}
	return n, nil
}

// splitText cuts text into pieces of at most limit runes, preferring to break
// after punctuation and then at whitespace.
func splitText(text string, limit int) []string {
	var chunks []string
	rest := []rune(strings.TrimSpace(text))

	for len(rest) > 0 {
		if len(rest) <= limit {
			chunks = append(chunks, string(rest))
			break
		}

		cut := -1
		for i := limit - 1; i > 0; i-- {
			if strings.ContainsRune(".!?;:,", rest[i]) {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			for i := limit; i > 0; i-- {
				if unicode.IsSpace(rest[i]) {
					cut = i
					break
				}
			}
		}
		if cut < 0 {
			cut = limit
		}

		if piece := strings.TrimSpace(string(rest[:cut])); piece != "" {
			chunks = append(chunks, piece)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}

	return chunks
}
