// Package tls builds the server's TLS configuration: ACME certificates when
// enabled, then static files, then a generated development certificate.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

type TLSManager struct {
	cfg      config.ServerConfig
	dev      bool
	autoCert *autocert.Manager
	logger   *zap.Logger

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

// NewTLSManager sets up autocert when cfg.AutoCert is on. Self-signed
// fallback certificates are only issued outside production.
func NewTLSManager(cfg config.ServerConfig, environment string, logger *zap.Logger) (*TLSManager, error) {
	m := &TLSManager{
		cfg:    cfg,
		dev:    environment != config.EnvProduction,
		logger: logger,
	}

	if cfg.EnableTLS && cfg.AutoCert {
		if err := os.MkdirAll(cfg.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create autocert directory: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.AutoCertDir),
			Email:      cfg.Email,
		}
		logger.Info("AutoCert configured",
			zap.String("domain", cfg.Domain),
			zap.String("cache_dir", cfg.AutoCertDir))
	}

	return m, nil
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		m.logger.Warn("AutoCert failed, falling back", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	if m.cfg.CertFile != "" && m.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
		if err == nil {
			return &cert, nil
		}
		m.logger.Warn("Failed to load certificate files", zap.Error(err))
	}

	if !m.dev {
		return nil, errors.New("no certificate available")
	}
	return m.selfSigned()
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		hosts := []string{m.cfg.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.cfg.AutoCertDir, m.logger).GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager is nil unless autocert is enabled. Its HTTPHandler
// serves ACME http-01 challenges.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
