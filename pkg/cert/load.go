package cert

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadKeyPair reads a PEM certificate chain and its private key and returns
// them as a tls.Certificate with Leaf populated.
func LoadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	chain, err := DecodeCertChainPEM(certPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", certFile, err)
	}

	key, err := ReadKeyFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", keyFile, err)
	}
	if !publicKeysEqual(chain[0], key) {
		return tls.Certificate{}, fmt.Errorf("%s: %w", keyFile, ErrKeyMismatch)
	}

	out := tls.Certificate{
		PrivateKey: key,
		Leaf:       chain[0],
	}
	for _, c := range chain {
		out.Certificate = append(out.Certificate, c.Raw)
	}
	return out, nil
}

// LoadCertPool reads every certificate in a PEM file into a new pool.
func LoadCertPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	chain, err := DecodeCertChainPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	for _, c := range chain {
		pool.AddCert(c)
	}
	return pool, nil
}
