// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPKI holds the paths of the certificates generated for a test.
type testPKI struct {
	CACertPath       string
	ClientBundlePath string

	caCertDER []byte
	clientKey *ecdsa.PrivateKey
}

// generateTestPKI generates a CA plus a client cert/key bundle (both PEM
// blocks concatenated into one file, the way ClientTLSConfig expects the
// private key file to be shipped) in a temp directory.
func generateTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}

	caCertPath := filepath.Join(dir, "ca.pem")
	writePEMFile(t, caCertPath, &pem.Block{Type: "CERTIFICATE", Bytes: caCertDER})

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Client"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientCertDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating client certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(clientKey)
	if err != nil {
		t.Fatalf("marshaling client key: %v", err)
	}

	bundlePath := filepath.Join(dir, "client-bundle.pem")
	writePEMFile(t, bundlePath,
		&pem.Block{Type: "CERTIFICATE", Bytes: clientCertDER},
		&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER},
	)

	return &testPKI{
		CACertPath:       caCertPath,
		ClientBundlePath: bundlePath,
		caCertDER:        caCertDER,
		clientKey:        clientKey,
	}
}

func writePEMFile(t *testing.T, path string, blocks ...*pem.Block) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating file %s: %v", path, err)
	}
	defer f.Close()
	for _, b := range blocks {
		if err := pem.Encode(f, b); err != nil {
			t.Fatalf("encoding PEM: %v", err)
		}
	}
}

func TestClientTLSConfigCAFile(t *testing.T) {
	pki := generateTestPKI(t)

	cfg, err := ClientTLSConfig(ClientConfig{CAFile: pki.CACertPath})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %d", cfg.MinVersion)
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs")
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify so the TOFU hook sees the raw chain")
	}
}

func TestClientTLSConfigCADir(t *testing.T) {
	pki := generateTestPKI(t)
	dir := t.TempDir()
	data, err := os.ReadFile(pki.CACertPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "trusted-ca.pem"), data, 0644); err != nil {
		t.Fatal(err)
	}
	// A non-certificate file in the dir must be skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("not a cert"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ClientTLSConfig(ClientConfig{CADir: dir})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs from the CA dir")
	}
}

func TestClientTLSConfigMTLSBundle(t *testing.T) {
	pki := generateTestPKI(t)

	cfg, err := ClientTLSConfig(ClientConfig{
		CAFile:         pki.CACertPath,
		PrivateKeyFile: pki.ClientBundlePath,
	})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 client certificate, got %d", len(cfg.Certificates))
	}
}

func TestClientTLSConfigEncryptedKey(t *testing.T) {
	pki := generateTestPKI(t)
	dir := t.TempDir()

	keyDER, err := x509.MarshalECPrivateKey(pki.clientKey)
	if err != nil {
		t.Fatal(err)
	}
	//nolint:staticcheck // legacy encrypted PEM is exactly what this path must handle
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte("hunter2"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatal(err)
	}
	certPEM, err := os.ReadFile(pki.ClientBundlePath)
	if err != nil {
		t.Fatal(err)
	}
	certBlock, _ := pem.Decode(certPEM)

	encBundle := filepath.Join(dir, "client-enc.pem")
	writePEMFile(t, encBundle, certBlock, encBlock)

	invoked := false
	cfg, err := ClientTLSConfig(ClientConfig{
		PrivateKeyFile: encBundle,
		PrivateKeyPassword: func() string {
			invoked = true
			return "hunter2"
		},
	})
	if err != nil {
		t.Fatalf("ClientTLSConfig with encrypted key: %v", err)
	}
	if !invoked {
		t.Error("expected the password callback to be invoked for an encrypted key")
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(cfg.Certificates))
	}
}

func TestClientTLSConfigEncryptedKeyWithoutPasswordFails(t *testing.T) {
	pki := generateTestPKI(t)
	dir := t.TempDir()

	keyDER, err := x509.MarshalECPrivateKey(pki.clientKey)
	if err != nil {
		t.Fatal(err)
	}
	//nolint:staticcheck
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte("hunter2"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatal(err)
	}
	certPEM, err := os.ReadFile(pki.ClientBundlePath)
	if err != nil {
		t.Fatal(err)
	}
	certBlock, _ := pem.Decode(certPEM)

	encBundle := filepath.Join(dir, "client-enc.pem")
	writePEMFile(t, encBundle, certBlock, encBlock)

	if _, err := ClientTLSConfig(ClientConfig{PrivateKeyFile: encBundle}); err == nil {
		t.Error("expected an error for an encrypted key with no password source")
	}
}

func TestClientTLSConfigVerifyHookWired(t *testing.T) {
	pki := generateTestPKI(t)

	hookCalls := 0
	cfg, err := ClientTLSConfig(ClientConfig{
		CAFile: pki.CACertPath,
		Verify: func(rawCerts [][]byte) error {
			hookCalls++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if cfg.VerifyPeerCertificate == nil {
		t.Fatal("expected VerifyPeerCertificate to be set")
	}
	if err := cfg.VerifyPeerCertificate([][]byte{pki.caCertDER}, nil); err != nil {
		t.Fatalf("VerifyPeerCertificate: %v", err)
	}
	if hookCalls != 1 {
		t.Errorf("expected the Verify hook to run once, ran %d times", hookCalls)
	}
}

func TestClientTLSConfigInvalidCACert(t *testing.T) {
	dir := t.TempDir()
	fakeCA := filepath.Join(dir, "fake-ca.pem")
	if err := os.WriteFile(fakeCA, []byte("not a certificate"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ClientTLSConfig(ClientConfig{CAFile: fakeCA}); err == nil {
		t.Error("expected an error for an invalid CA cert")
	}
}

func TestClientTLSConfigMissingKeyFile(t *testing.T) {
	pki := generateTestPKI(t)
	_, err := ClientTLSConfig(ClientConfig{
		CAFile:         pki.CACertPath,
		PrivateKeyFile: "/nonexistent/client.pem",
	})
	if err == nil {
		t.Error("expected an error for a missing private key file")
	}
}
