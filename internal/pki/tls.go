// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki builds the *tls.Config a Bolt connection dials with: trust
// anchors from a CA file/dir, an optional mutual-TLS client key, and a
// custom VerifyPeerCertificate hook so the handshake can fall through to
// TOFU pinning instead of failing outright when the chain doesn't verify.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// VerifyFunc classifies a presented chain, returning an error if the
// connection must be aborted. It is invoked from tls.Config's
// VerifyPeerCertificate in place of Go's default verification, since
// InsecureSkipVerify must be set to get access to the raw chain before any
// AcceptOnce/Trust/Reject TOFU decision is made.
type VerifyFunc func(rawCerts [][]byte) error

// ClientConfig bundles the inputs ClientTLSConfig needs.
type ClientConfig struct {
	CAFile             string
	CADir              string
	PrivateKeyFile     string
	PrivateKeyPassword func() string
	Verify             VerifyFunc
}

// ClientTLSConfig builds a TLS 1.2+ client config with optional mTLS and a
// custom peer-verification hook.
func ClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // verification happens in VerifyPeerCertificate
	}

	if cfg.CAFile != "" || cfg.CADir != "" {
		pool, err := loadCACertPool(cfg.CAFile, cfg.CADir)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}

	if cfg.PrivateKeyFile != "" {
		cert, err := loadClientCert(cfg.PrivateKeyFile, cfg.PrivateKeyPassword)
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if cfg.Verify != nil {
		tc.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return cfg.Verify(rawCerts)
		}
	}

	return tc, nil
}

func loadCACertPool(caFile, caDir string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	loaded := false

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("pki: reading CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("pki: no certificates parsed from %s", caFile)
		}
		loaded = true
	}

	if caDir != "" {
		entries, err := os.ReadDir(caDir)
		if err != nil {
			return nil, fmt.Errorf("pki: reading CA dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(caDir, e.Name()))
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(data) {
				loaded = true
			}
		}
	}

	if !loaded {
		return nil, fmt.Errorf("pki: no CA certificates loaded from %q / %q", caFile, caDir)
	}
	return pool, nil
}

// loadClientCert reads a PEM-encoded private key (optionally
// password-protected) and its adjoining certificate from keyFile. The
// certificate is expected to be concatenated in the same PEM file ahead of
// the key, matching how mTLS client bundles are typically shipped.
//
// Per the corrected password-callback semantics: passwordFn is invoked
// whenever the key block is encrypted, and failure to decrypt without one
// is reported rather than silently skipped.
func loadClientCert(keyFile string, passwordFn func() string) (tls.Certificate, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pki: reading private key file: %w", err)
	}

	var certDER [][]byte
	var keyDER []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = append(certDER, block.Bytes)
		default:
			keyBytes := block.Bytes
			//nolint:staticcheck // x509.IsEncryptedPEMBlock/DecryptPEMBlock are deprecated but remain the
			// only stdlib path for legacy encrypted PKCS#1 PEM keys.
			if x509.IsEncryptedPEMBlock(block) {
				var pass string
				if passwordFn != nil {
					pass = passwordFn()
				}
				if pass == "" {
					return tls.Certificate{}, fmt.Errorf("pki: private key %s is encrypted but no password was provided", keyFile)
				}
				decrypted, err := x509.DecryptPEMBlock(block, []byte(pass))
				if err != nil {
					return tls.Certificate{}, fmt.Errorf("pki: decrypting private key: %w", err)
				}
				keyBytes = decrypted
			}
			keyDER = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: keyBytes})
		}
	}

	if len(certDER) == 0 || keyDER == nil {
		return tls.Certificate{}, fmt.Errorf("pki: %s does not contain both a certificate and a private key", keyFile)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER[0]})
	cert, err := tls.X509KeyPair(certPEM, keyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pki: building client key pair: %w", err)
	}
	return cert, nil
}
