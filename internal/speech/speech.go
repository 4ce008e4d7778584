// Package speech turns inbound voice messages into text: it downloads the
// audio from the messaging provider and transcribes it with Whisper.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/genai"
)

const (
	// TranscriptPrefix marks recognized voice text before it enters the
	// conversation as a user message.
	TranscriptPrefix = "[Голосовое сообщение]: "
	// downloadTimeout bounds one audio download.
	downloadTimeout = 30 * time.Second
	// maxAudioBytes caps the downloaded audio size (Whisper's own limit).
	maxAudioBytes = 25 << 20
)

// Service downloads and transcribes voice messages.
type Service struct {
	client     genai.ClientInterface
	httpClient *http.Client
}

// NewService creates a speech service backed by the given model client.
func NewService(client genai.ClientInterface) *Service {
	return &Service{
		client:     client,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// ProcessVoiceURL downloads the voice recording and returns the
// recognized text. The transcript is prefixed for the conversation by the
// caller, not here.
func (s *Service) ProcessVoiceURL(ctx context.Context, downloadURL string) (string, error) {
	audio, err := s.download(ctx, downloadURL)
	if err != nil {
		return "", err
	}

	filename, contentType := audioFileInfo(downloadURL)
	// Russian as the hint; Whisper handles Kazakh speech on its own.
	text, err := s.client.TranscribeAudio(ctx, bytes.NewReader(audio), filename, "ru")
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("transcription returned empty text")
	}

	slog.Info("Service.ProcessVoiceURL: voice message recognized",
		"bytes", len(audio), "contentType", contentType, "language", DetectLanguage(text), "length", len(text))
	return text, nil
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build audio request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio body: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio exceeds %d byte limit", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio download returned empty body")
	}
	return data, nil
}

// audioFileInfo picks the upload filename and content type from the URL
// extension. Voice notes arrive as ogg/opus; anything unknown is treated
// as ogg.
func audioFileInfo(url string) (filename, contentType string) {
	base := url
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	ext := ""
	if i := strings.LastIndex(base, "."); i >= 0 {
		ext = strings.ToLower(base[i+1:])
	}
	switch ext {
	case "mp3":
		return "audio.mp3", "audio/mpeg"
	case "wav":
		return "audio.wav", "audio/wav"
	case "m4a":
		return "audio.m4a", "audio/mp4"
	case "oga", "opus", "ogg":
		return "audio.ogg", "audio/ogg"
	default:
		return "audio.ogg", "audio/ogg"
	}
}

// kazakhChars are letters unique to the Kazakh alphabet.
const kazakhChars = "әғқңөұүіһӘҒҚҢӨҰҮІҺ"

// DetectLanguage classifies text as Kazakh, English or Russian. Any
// Kazakh-specific letter wins; a mostly-Latin text is English; everything
// else defaults to Russian.
func DetectLanguage(text string) string {
	if text == "" {
		return "ru"
	}
	runes := []rune(text)
	english := 0
	for _, r := range runes {
		if strings.ContainsRune(kazakhChars, r) {
			return "kk"
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			english++
		}
	}
	if float64(english) > float64(len(runes))*0.7 {
		return "en"
	}
	return "ru"
}
