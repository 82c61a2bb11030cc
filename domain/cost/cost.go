// Package cost provides the linear token pricing model and the word-count
// token estimator used when no exact tokenizer is configured.
package cost

import "github.com/artpar/chatgate/domain/chat"

// TokensPerWord approximates tokens from whitespace-delimited words.
const TokensPerWord = 1.3

// Pricing holds per-token rates in dollars (value type).
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// DefaultPricing returns the calibrated example rates.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerToken:  0.00001,
		OutputPerToken: 0.00003,
	}
}

// Cost returns the estimated dollar cost of a turn.
// This is a PURE function.
func (p Pricing) Cost(inputTokens, outputTokens float64) float64 {
	return inputTokens*p.InputPerToken + outputTokens*p.OutputPerToken
}

// WordEstimator approximates token counts as words * TokensPerWord.
type WordEstimator struct{}

// Tokens returns the estimated token count of text.
func (WordEstimator) Tokens(text string) float64 {
	return float64(chat.WordCount(text)) * TokensPerWord
}

// Name identifies the estimator in logs.
func (WordEstimator) Name() string { return "words" }
