package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Session configuration errors.
var (
	ErrClientCertRequired = errors.New("client certificate is required")
	ErrInvalidTLSVersion  = errors.New("invalid TLS version range")
)

// SessionConfig holds the TLS parameters for a client session.
// It is treated as immutable once passed to NewClient.
type SessionConfig struct {
	// MinVersion is the lowest TLS version offered (default: TLS 1.2).
	MinVersion uint16

	// MaxVersion is the highest TLS version offered (default: TLS 1.3).
	MaxVersion uint16

	// Certificates are the local certificates presented to the server.
	Certificates []tls.Certificate

	// RequireClientCertificate makes the session refuse to build without a
	// local certificate, for servers that demand mutual TLS.
	RequireClientCertificate bool

	// RootCAs is the pool of trusted CA certificates. Nil uses the host pool.
	RootCAs *x509.CertPool

	// ServerName is the expected server name, used for SNI and verification.
	ServerName string

	// NextProtos lists ALPN protocols in preference order.
	NextProtos []string

	// InsecureSkipVerify disables chain and host name verification.
	// VerifyPeerCertificate still runs when set.
	InsecureSkipVerify bool

	// VerifyPeerCertificate is an optional callback for custom certificate
	// validation, called after normal verification.
	VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// DefaultSessionConfig returns a session accepting TLS 1.2 and 1.3 against
// the host root pool.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}

// TLSConfig validates the session and builds the client *tls.Config.
// Each call returns a fresh config.
func (s SessionConfig) TLSConfig() (*tls.Config, error) {
	minVersion, maxVersion := s.MinVersion, s.MaxVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	if maxVersion == 0 {
		maxVersion = tls.VersionTLS13
	}
	if minVersion > maxVersion {
		return nil, fmt.Errorf("%w: min %s > max %s", ErrInvalidTLSVersion,
			tls.VersionName(minVersion), tls.VersionName(maxVersion))
	}
	if s.RequireClientCertificate && len(s.Certificates) == 0 {
		return nil, ErrClientCertRequired
	}
	for i, c := range s.Certificates {
		if len(c.Certificate) == 0 {
			return nil, fmt.Errorf("certificate %d is empty", i)
		}
	}

	certs := make([]tls.Certificate, len(s.Certificates))
	copy(certs, s.Certificates)

	var protos []string
	if len(s.NextProtos) > 0 {
		protos = append(protos, s.NextProtos...)
	}

	return &tls.Config{
		MinVersion:            minVersion,
		MaxVersion:            maxVersion,
		Certificates:          certs,
		RootCAs:               s.RootCAs,
		ServerName:            s.ServerName,
		NextProtos:            protos,
		InsecureSkipVerify:    s.InsecureSkipVerify,
		VerifyPeerCertificate: s.VerifyPeerCertificate,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}, nil
}

// PinnedCertificate returns a VerifyPeerCertificate callback that accepts
// only a leaf certificate whose DER encoding equals der. Combine it with
// InsecureSkipVerify for self-signed servers.
func PinnedCertificate(der []byte) func([][]byte, [][]*x509.Certificate) error {
	pinned := append([]byte(nil), der...)
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no certificates presented")
		}
		if string(rawCerts[0]) != string(pinned) {
			return fmt.Errorf("server certificate does not match pinned certificate")
		}
		return nil
	}
}
