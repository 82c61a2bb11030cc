package tokenizer_test

import (
	"testing"

	"github.com/artpar/chatgate/adapters/tokenizer"
)

// The encoder vocabulary is fetched over the network on first use; tests skip
// when it cannot be loaded.
func newEncoder(t *testing.T) *tokenizer.Tiktoken {
	t.Helper()
	enc, err := tokenizer.New("")
	if err != nil {
		t.Skipf("tiktoken encoder unavailable: %v", err)
	}
	return enc
}

func TestTokens(t *testing.T) {
	enc := newEncoder(t)

	if got := enc.Tokens("hello world"); got != 2 {
		t.Errorf("Tokens(hello world) = %v, want 2", got)
	}
	if got := enc.Tokens("   "); got != 0 {
		t.Errorf("Tokens(blank) = %v, want 0", got)
	}
}

func TestName(t *testing.T) {
	enc := newEncoder(t)
	if got := enc.Name(); got != "tiktoken:cl100k_base" {
		t.Errorf("Name() = %q", got)
	}
}

func TestNew_UnknownEncoding(t *testing.T) {
	if _, err := tokenizer.New("no_such_encoding"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
