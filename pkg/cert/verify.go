package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrInvalidCert     = errors.New("invalid certificate")
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
)

// CheckValidity reports whether now falls inside the certificate's
// validity period.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if now.Before(cert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}
	return nil
}

// VerifyChain checks that cert is currently valid and chains to one of the
// certificates in roots for the given usage.
func VerifyChain(cert *x509.Certificate, roots *x509.CertPool, usage x509.ExtKeyUsage) error {
	now := time.Now()
	if err := CheckValidity(cert, now); err != nil {
		return err
	}
	if roots == nil {
		return fmt.Errorf("%w: no trusted roots", ErrInvalidChain)
	}

	opts := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{usage},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return nil
}

// Info summarizes a certificate for display.
type Info struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	DNSNames     []string
	IsCA         bool
}

// GetInfo extracts display information from a certificate.
func GetInfo(cert *x509.Certificate) Info {
	return Info{
		Subject:      cert.Subject.CommonName,
		Issuer:       cert.Issuer.CommonName,
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     append([]string(nil), cert.DNSNames...),
		IsCA:         cert.IsCA,
	}
}
