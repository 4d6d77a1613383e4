package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/caddyserver/certmagic"
	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/database"
)

// setupTLS obtains a certificate for the configured domain, keeping ACME
// state in the database. The returned handler answers HTTP-01 challenges and
// redirects everything else to https.
func setupTLS(ctx context.Context, cfg *config.Config, db *sql.DB) (*tls.Config, http.Handler, error) {
	logger := zap.L().Named("certmagic")
	domain := cfg.Domain()

	var magic *certmagic.Config
	cache := certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (*certmagic.Config, error) {
			return magic, nil
		},
		Logger: logger,
	})
	magic = certmagic.New(cache, certmagic.Config{
		Storage: database.NewSQLCertStorage(db),
		Logger:  logger,
	})

	ca := certmagic.LetsEncryptProductionCA
	if cfg.TLS.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}
	issuer := certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		CA:     ca,
		Email:  cfg.TLS.Email,
		Agreed: true,
		Logger: logger,
	})
	magic.Issuers = []certmagic.Issuer{issuer}

	if err := magic.ManageSync(ctx, []string{domain}); err != nil {
		return nil, nil, fmt.Errorf("failed to obtain certificate for %s: %w", domain, err)
	}

	tlsConfig := magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	return tlsConfig, issuer.HTTPChallengeHandler(redirect), nil
}
