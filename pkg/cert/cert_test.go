package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamelink-protocol/gamelink-go/internal/testpeer"
)

func selfSigned(t *testing.T, key crypto.Signer, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "self"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	c, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return c
}

func writeBlock(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestLoadKeyPairPKCS8(t *testing.T) {
	dir := t.TempDir()
	ca := testpeer.NewAuthority(t, "Test CA")
	certPath, keyPath := testpeer.WriteKeyPair(t, dir, "client", ca.IssueClient(t, "probe"))

	pair, err := LoadKeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.Len(t, pair.Certificate, 1)
	require.NotNil(t, pair.Leaf)
	assert.Equal(t, "probe", pair.Leaf.Subject.CommonName)
	assert.NoError(t, VerifyChain(pair.Leaf, ca.Pool(), x509.ExtKeyUsageClientAuth))
}

func TestLoadKeyPairECAndRSA(t *testing.T) {
	now := time.Now()

	t.Run("SEC1", func(t *testing.T) {
		dir := t.TempDir()
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		require.NoError(t, WriteCertFile(filepath.Join(dir, "c.pem"), selfSigned(t, key, now.Add(-time.Hour), now.Add(time.Hour))))
		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		writeBlock(t, filepath.Join(dir, "k.pem"), "EC PRIVATE KEY", der)

		pair, err := LoadKeyPair(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem"))
		require.NoError(t, err)
		assert.IsType(t, &ecdsa.PrivateKey{}, pair.PrivateKey)
	})

	t.Run("PKCS1", func(t *testing.T) {
		dir := t.TempDir()
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		require.NoError(t, WriteCertFile(filepath.Join(dir, "c.pem"), selfSigned(t, key, now.Add(-time.Hour), now.Add(time.Hour))))
		writeBlock(t, filepath.Join(dir, "k.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))

		pair, err := LoadKeyPair(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem"))
		require.NoError(t, err)
		assert.IsType(t, &rsa.PrivateKey{}, pair.PrivateKey)
	})
}

func TestLoadKeyPairUsableForTLS(t *testing.T) {
	dir := t.TempDir()
	ca := testpeer.NewAuthority(t, "Test CA")
	certPath, keyPath := testpeer.WriteKeyPair(t, dir, "server", ca.IssueServer(t))

	pair, err := LoadKeyPair(certPath, keyPath)
	require.NoError(t, err)

	cfg := &tls.Config{Certificates: []tls.Certificate{pair}}
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.Certificates[0].PrivateKey)
}

func TestLoadKeyPairErrors(t *testing.T) {
	dir := t.TempDir()
	ca := testpeer.NewAuthority(t, "Test CA")
	certA, keyA := testpeer.WriteKeyPair(t, dir, "a", ca.IssueClient(t, "a"))
	_, keyB := testpeer.WriteKeyPair(t, dir, "b", ca.IssueClient(t, "b"))

	_, err := LoadKeyPair(certA, keyB)
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = LoadKeyPair(filepath.Join(dir, "missing.crt"), keyA)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadKeyPair(keyA, keyA)
	assert.ErrorIs(t, err, ErrNoCertificates)

	_, err = LoadKeyPair(certA, certA)
	assert.ErrorIs(t, err, ErrInvalidPEM)

	bad := filepath.Join(dir, "bad.key")
	writeBlock(t, bad, "PRIVATE KEY", []byte("not a key"))
	_, err = LoadKeyPair(certA, bad)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLoadCertPool(t *testing.T) {
	dir := t.TempDir()
	ca := testpeer.NewAuthority(t, "Test CA")
	other := testpeer.NewAuthority(t, "Other CA")

	bundle := append(EncodeCertPEM(ca.Certificate()), EncodeCertPEM(other.Certificate())...)
	path := filepath.Join(dir, "bundle.pem")
	require.NoError(t, os.WriteFile(path, bundle, 0o644))

	pool, err := LoadCertPool(path)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(other.IssueServer(t).Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, VerifyChain(leaf, pool, x509.ExtKeyUsageServerAuth))

	_, err = LoadCertPool(filepath.Join(dir, "missing.pem"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("no pem here"), 0o644))
	_, err = LoadCertPool(empty)
	assert.ErrorIs(t, err, ErrNoCertificates)
}

func TestCertFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	c := selfSigned(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	require.NoError(t, WriteCertFile(filepath.Join(dir, "c.pem"), c))
	require.NoError(t, WriteKeyFile(filepath.Join(dir, "k.pem"), key))

	got, err := ReadCertFile(filepath.Join(dir, "c.pem"))
	require.NoError(t, err)
	assert.True(t, got.Equal(c))

	gotKey, err := ReadKeyFile(filepath.Join(dir, "k.pem"))
	require.NoError(t, err)
	assert.True(t, key.Equal(gotKey))

	info, err := os.Stat(filepath.Join(dir, "k.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
