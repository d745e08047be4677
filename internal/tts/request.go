package tts

import (
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/voice-service/internal/core"
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = "en"

// supportedLanguages lists the language codes the XTTS-v2 checkpoint was trained on.
var supportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru",
	"nl", "cs", "ar", "zh-cn", "ja", "hu", "ko", "hi",
}

// SupportedLanguages returns a copy of the accepted language codes.
func SupportedLanguages() []string {
	return slices.Clone(supportedLanguages)
}

// NormalizeLanguage lowercases and trims code and reports whether it is supported.
// An empty code resolves to fallback.
func NormalizeLanguage(code, fallback string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		normalized = strings.ToLower(strings.TrimSpace(fallback))
	}

	if normalized == "" {
		normalized = DefaultLanguage
	}

	if !slices.Contains(supportedLanguages, normalized) {
		return "", fmt.Errorf("%w: unsupported language %q (supported: %s)",
			core.ErrInvalidInput, code, strings.Join(supportedLanguages, ", "))
	}

	return normalized, nil
}

// SynthesisRequest is a single text-to-speech request as it arrives over the wire.
type SynthesisRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav,omitempty"`
	Language   string `json:"language,omitempty"`
}

// normalize validates the request and returns a copy with the language resolved.
func (r SynthesisRequest) normalize(fallbackLanguage string) (SynthesisRequest, error) {
	if strings.TrimSpace(r.Text) == "" {
		return r, fmt.Errorf("%w: text cannot be empty", core.ErrInvalidInput)
	}

	language, err := NormalizeLanguage(r.Language, fallbackLanguage)
	if err != nil {
		return r, err
	}

	r.Text = strings.TrimSpace(r.Text)
	r.SpeakerWav = strings.TrimSpace(r.SpeakerWav)
	r.Language = language

	return r, nil
}
