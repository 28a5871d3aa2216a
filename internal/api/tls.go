package api

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/AaronLay10/ShowSync/internal/config"
)

// ErrTLSIncomplete is returned when only one of cert and key is set.
var ErrTLSIncomplete = errors.New("tls_cert and tls_key must be set together")

// TLSConfig holds the certificate paths from the http section.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// TLSFromConfig picks the TLS files out of the http section.
func TLSFromConfig(h config.HTTPConfig) (TLSConfig, error) {
	tc := TLSConfig{CertFile: h.TLSCert, KeyFile: h.TLSKey}
	if (tc.CertFile == "") != (tc.KeyFile == "") {
		return TLSConfig{}, ErrTLSIncomplete
	}
	return tc, nil
}

// Enabled is true if both files are configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Load reads the key pair.
func (c TLSConfig) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
