package tls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewACMEProvider_RequiresDomains(t *testing.T) {
	if _, err := NewACMEProvider(ACMEConfig{}, zerolog.Nop()); err == nil {
		t.Error("expected error without domains")
	}
}

func TestHostPolicy(t *testing.T) {
	p, err := NewACMEProvider(ACMEConfig{
		Domains:  []string{"chat.example.com", "*.carnivoros.example"},
		CacheDir: t.TempDir(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewACMEProvider error: %v", err)
	}

	tests := []struct {
		host    string
		allowed bool
	}{
		{"chat.example.com", true},
		{"other.example.com", false},
		{"api.carnivoros.example", true},
		{"deep.api.carnivoros.example", true},
		{"carnivoros.example", false},
		{"evilcarnivoros.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := p.hostPolicy(context.Background(), tt.host)
			if tt.allowed && err != nil {
				t.Errorf("hostPolicy(%q) = %v, want allowed", tt.host, err)
			}
			if !tt.allowed && err == nil {
				t.Errorf("hostPolicy(%q) allowed, want rejected", tt.host)
			}
		})
	}
}

func TestTLSConfig(t *testing.T) {
	p, err := NewACMEProvider(ACMEConfig{
		Domains:  []string{"chat.example.com"},
		CacheDir: t.TempDir(),
		Staging:  true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewACMEProvider error: %v", err)
	}

	cfg := p.TLSConfig()
	if cfg.GetCertificate == nil {
		t.Error("GetCertificate not set")
	}
	if !slices.Contains(cfg.NextProtos, "acme-tls/1") {
		t.Errorf("NextProtos = %v, want acme-tls/1", cfg.NextProtos)
	}
}

func TestHTTPHandler_RedirectsToHTTPS(t *testing.T) {
	p, err := NewACMEProvider(ACMEConfig{
		Domains:  []string{"chat.example.com"},
		CacheDir: t.TempDir(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewACMEProvider error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://chat.example.com/chat", nil)
	rec := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "https://chat.example.com/chat" {
		t.Errorf("Location = %q", loc)
	}
}
