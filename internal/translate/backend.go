package translate

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/internal/config"
	"github.com/thebtf/glossa/internal/vocab"
)

// Request carries one translation call. SourceLang "auto" or empty lets
// the backend infer the source language. Vocabulary holds retrieved
// terminology matches; backends that do not support it ignore the field.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Vocabulary []vocab.Match
}

// Backend converts text into translated text. SupportsVocabulary is the
// construction-time capability flag: callers pass retrieved context only to
// backends that declare support for it.
type Backend interface {
	Translate(ctx context.Context, req Request) Result
	SupportsVocabulary() bool
	Name() string
}

// Service names accepted in configuration.
const (
	ServiceMicrosoft = "microsoft"
	ServiceLLM       = "llm"
	ServiceMock      = "mock"
)

// New selects a backend from configuration. Construction never fails:
// unknown service names and a Microsoft selection without an API key fall
// back to the mock backend, so the pipeline never holds a nil backend.
func New(cfg *config.Config) Backend {
	switch cfg.TranslationService {
	case ServiceMicrosoft:
		if cfg.MicrosoftAPIKey == "" {
			log.Warn().Msg("Microsoft translator selected without API key, using mock backend")
			return NewMock()
		}
		return NewMicrosoft(MicrosoftConfig{
			APIKey: cfg.MicrosoftAPIKey,
			Region: cfg.MicrosoftRegion,
		})
	case ServiceLLM:
		return NewLLM(LLMConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
	case ServiceMock:
		return NewMock()
	default:
		log.Warn().Str("service", cfg.TranslationService).Msg("Unknown translation service, using mock backend")
		return NewMock()
	}
}

// isTimeout reports whether err is a deadline-style transport failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}
