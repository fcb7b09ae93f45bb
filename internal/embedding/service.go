package embedding

import (
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxEmbedChars bounds the text handed to the provider. Longer inputs are
// truncated; embedding quality degrades gracefully past the window anyway.
const MaxEmbedChars = 2000

// Service wraps an optional embedding model. When no backend is available
// every call degrades to "no vector" and downstream search stays
// lexical-only.
type Service struct {
	model Model
	log   zerolog.Logger
}

// NewService selects a backend. An explicit provider version is honored;
// otherwise the first registered model whose factory succeeds wins. A
// service with no working backend is still usable, just unavailable.
func NewService(provider string) *Service {
	logger := log.With().Str("component", "embedding").Logger()

	var model Model
	if provider != "" {
		m, err := GetModel(provider)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("configured embedding provider unavailable")
		} else {
			model = m
		}
	} else {
		model = DefaultRegistry.FirstAvailable()
	}

	if model != nil {
		logger.Info().
			Str("model", model.Name()).
			Str("version", model.Version()).
			Int("dimensions", model.Dimensions()).
			Msg("embedding backend selected")
	} else {
		logger.Info().Msg("no embedding backend available, vector search disabled")
	}

	return &Service{model: model, log: logger}
}

// IsAvailable reports whether a backend is loaded.
func (s *Service) IsAvailable() bool {
	return s.model != nil
}

// Provider returns the active model version, or empty when unavailable.
func (s *Service) Provider() string {
	if s.model == nil {
		return ""
	}
	return s.model.Version()
}

// Dimensions returns the active model's vector size, or 0 when unavailable.
func (s *Service) Dimensions() int {
	if s.model == nil {
		return 0
	}
	return s.model.Dimensions()
}

// Embed generates a vector for text, truncated to MaxEmbedChars. Returns
// (nil, nil) when no backend is available.
func (s *Service) Embed(text string) ([]float32, error) {
	if s.model == nil {
		return nil, nil
	}
	return s.model.Embed(truncateChars(text, MaxEmbedChars))
}

// EmbedBatch generates vectors for multiple texts with the same truncation.
func (s *Service) EmbedBatch(texts []string) ([][]float32, error) {
	if s.model == nil {
		return nil, nil
	}
	bounded := make([]string, len(texts))
	for i, t := range texts {
		bounded[i] = truncateChars(t, MaxEmbedChars)
	}
	return s.model.EmbedBatch(bounded)
}

// Close releases the backend.
func (s *Service) Close() error {
	if s.model == nil {
		return nil
	}
	return s.model.Close()
}

// truncateChars cuts s to at most n runes.
func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
