package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/adapters/gemini"
	"github.com/artpar/chatgate/adapters/openai"
	"github.com/artpar/chatgate/adapters/tokenizer"
	"github.com/artpar/chatgate/config"
	"github.com/artpar/chatgate/domain/cost"
	"github.com/artpar/chatgate/ports"
)

// NewCompleter builds the configured assistant provider.
func NewCompleter(ctx context.Context, cfg config.AssistantConfig) (ports.Completer, error) {
	switch cfg.Provider {
	case "", "openai":
		c, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			AssistantID: cfg.OpenAI.AssistantID,
			BaseURL:     cfg.OpenAI.BaseURL,
			PollInitial: cfg.OpenAI.PollInitial,
			PollMax:     cfg.OpenAI.PollMax,
			MaxWait:     cfg.OpenAI.MaxWait,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "gemini":
		c, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			Timeout:     cfg.Gemini.Timeout,
			MaxAttempts: cfg.Gemini.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

// NewEstimator builds the token estimator. A tiktoken encoding that cannot be
// loaded falls back to the word estimator.
func NewEstimator(cfg config.PricingConfig, logger zerolog.Logger) ports.CostEstimator {
	if cfg.Estimator != "tiktoken" {
		return cost.WordEstimator{}
	}
	tk, err := tokenizer.New(cfg.Encoding)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", cfg.Encoding).Msg("tiktoken unavailable, estimating tokens from word count")
		return cost.WordEstimator{}
	}
	return tk
}
