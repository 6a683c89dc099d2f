// Package translate turns speech into text and text into another language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/ledgerline/internal/config"
)

// ErrNotConfigured is returned when an operation needs a provider that was
// not configured.
var ErrNotConfigured = errors.New("translate: provider not configured")

// Translator translates text between language tags (e.g. "ENGLISH", "ru").
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

// Service is both a Translator and a Transcriber.
type Service interface {
	Translator
	Transcriber
}

// Passthrough returns text unchanged and cannot transcribe.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

func (Passthrough) Transcribe(context.Context, []byte, string, string) (string, error) {
	return "", ErrNotConfigured
}

// New builds the configured provider.
func New(cfg config.TranslationConfig) (Service, error) {
	switch cfg.Provider {
	case "", "passthrough":
		return Passthrough{}, nil
	case "openai":
		return NewOpenAI(OpenAIOpts{
			BaseURL:            cfg.BaseURL,
			APIKey:             cfg.APIKey,
			Model:              cfg.Model,
			TranscriptionModel: cfg.TranscriptionModel,
			HTTPClient:         &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		})
	default:
		return nil, fmt.Errorf("translate: unknown provider %q", cfg.Provider)
	}
}

// sameLanguage reports whether two language tags name the same language.
func sameLanguage(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
