// Package tls provides automatic certificate provisioning via ACME.
package tls

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

const (
	// LetsEncrypt staging directory (for testing)
	letsEncryptStaging = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// ACMEConfig holds configuration for the ACME provider.
type ACMEConfig struct {
	Email    string
	Staging  bool     // Use staging server for testing
	Domains  []string // Hosts allowed to obtain certificates; "*.example.com" matches subdomains
	CacheDir string   // Certificate and account key cache (default: "certs")
}

// ACMEProvider obtains and renews certificates from Let's Encrypt.
type ACMEProvider struct {
	manager *autocert.Manager
	domains []string
	logger  zerolog.Logger
}

// NewACMEProvider creates a new ACME TLS provider.
func NewACMEProvider(cfg ACMEConfig, logger zerolog.Logger) (*ACMEProvider, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("acme: at least one domain is required")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "certs"
	}

	p := &ACMEProvider{
		domains: cfg.Domains,
		logger:  logger,
	}
	p.manager = &autocert.Manager{
		Cache:      autocert.DirCache(cfg.CacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      cfg.Email,
		HostPolicy: p.hostPolicy,
	}
	if cfg.Staging {
		p.manager.Client = &acme.Client{DirectoryURL: letsEncryptStaging}
	}

	logger.Info().
		Strs("domains", cfg.Domains).
		Bool("staging", cfg.Staging).
		Str("cache_dir", cfg.CacheDir).
		Msg("acme provider initialized")

	return p, nil
}

// TLSConfig returns a server TLS config that fetches certificates on demand.
func (p *ACMEProvider) TLSConfig() *cryptotls.Config {
	return p.manager.TLSConfig()
}

// HTTPHandler answers HTTP-01 challenges and redirects everything else to HTTPS.
func (p *ACMEProvider) HTTPHandler() http.Handler {
	return p.manager.HTTPHandler(nil)
}

// hostPolicy checks if a domain is allowed.
func (p *ACMEProvider) hostPolicy(ctx context.Context, host string) error {
	for _, d := range p.domains {
		if d == host {
			return nil
		}
		// Wildcard entries match any subdomain
		if suffix, ok := strings.CutPrefix(d, "*"); ok && strings.HasPrefix(suffix, ".") {
			if len(host) > len(suffix) && strings.HasSuffix(host, suffix) {
				return nil
			}
		}
	}

	p.logger.Warn().Str("host", host).Msg("acme: host not in allowed domains")
	return fmt.Errorf("host %q not in allowed domains", host)
}
