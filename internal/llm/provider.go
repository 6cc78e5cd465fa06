package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/config"
)

// New returns the provider selected by cfg.Provider. An empty provider picks anthropic
// when an API key is set and the extractive provider otherwise.
func New(cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewExtractiveProvider(), nil
		}
		return newAnthropic(cfg, logger)
	case "anthropic":
		return newAnthropic(cfg, logger)
	case "extractive":
		return NewExtractiveProvider(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newAnthropic(cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	p, err := NewAnthropicProvider(cfg, WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}
