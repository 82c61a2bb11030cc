// Package tokenizer provides an exact BPE token counter for cost estimation.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/artpar/chatgate/ports"
)

// DefaultEncoding is the encoding used by current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens with a tiktoken encoding.
// The vocabulary is downloaded on first use and cached under TIKTOKEN_CACHE_DIR.
type Tiktoken struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// New loads the named encoding. An empty name selects DefaultEncoding.
func New(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc, encoding: encoding}, nil
}

// Tokens returns the exact token count of text.
func (t *Tiktoken) Tokens(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return float64(len(t.enc.EncodeOrdinary(text)))
}

// Name identifies the estimator in logs.
func (t *Tiktoken) Name() string { return "tiktoken:" + t.encoding }

// Ensure interface compliance.
var _ ports.CostEstimator = (*Tiktoken)(nil)
