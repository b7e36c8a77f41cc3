// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tlsverify classifies a peer certificate chain presented during
// the TLS handshake and, when the chain cannot be CA-verified, falls
// through to an internal/tofu.Registry for trust-on-first-use pinning.
package tlsverify

import (
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nishisan-dev/nbolt/internal/tofu"
)

// Outcome classifies how a peer's certificate chain was resolved.
type Outcome int

const (
	// Verified means the chain validated against a CA and the hostname
	// matched.
	Verified Outcome = iota
	// TrustedByTofu means the chain could not be CA-verified (or matched
	// but the hostname didn't) and the tofu registry/callback accepted it.
	TrustedByTofu
	// Failed means verification failed outright.
	Failed
)

// Fingerprint renders the SHA-512 digest of a certificate's DER encoding
// as lowercase hex, per the wire format used by internal/tofu.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha512.Sum512(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Config bundles the inputs a Verify call needs.
type Config struct {
	Roots              *x509.CertPool
	TrustKnownHosts    bool
	Registry           *tofu.Registry
	UnverifiedCallback tofu.Callback
}

// Verify classifies the certificate chain presented by host:port per:
//
//   - chain verifies against Roots AND hostname matches (DNS SAN wildcard
//     rules or CN) -> Verified
//   - chain verifies but hostname mismatches -> falls through to TOFU
//   - chain does not verify at all -> falls through to TOFU if
//     TrustKnownHosts, else Failed
//
// leaf is the peer's end-entity certificate; rawChain is the full
// presented chain as parsed *x509.Certificate values (leaf first).
func Verify(host string, port int, leaf *x509.Certificate, rawChain []*x509.Certificate, cfg Config) (Outcome, error) {
	if err := checkMalformed(leaf); err != nil {
		return Failed, err
	}

	verified, hostnameOK := tryChainVerify(host, leaf, rawChain, cfg.Roots)
	if verified && hostnameOK {
		return Verified, nil
	}

	if !cfg.TrustKnownHosts || cfg.Registry == nil {
		return Failed, fmt.Errorf("tlsverify: chain unverifiable for %s:%d and TOFU disabled", host, port)
	}

	fp := Fingerprint(leaf)
	verdict, err := cfg.Registry.Check(host, port, fp, cfg.UnverifiedCallback)
	if err != nil {
		return Failed, err
	}
	if verdict != tofu.Trusted {
		return Failed, fmt.Errorf("tlsverify: host %s:%d not trusted", host, port)
	}
	return TrustedByTofu, nil
}

func tryChainVerify(host string, leaf *x509.Certificate, chain []*x509.Certificate, roots *x509.CertPool) (verified, hostnameOK bool) {
	if roots == nil {
		return false, false
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain {
		if c != leaf {
			intermediates.AddCert(c)
		}
	}
	opts := x509.VerifyOptions{Roots: roots, Intermediates: intermediates}
	if _, err := leaf.Verify(opts); err != nil {
		return false, false
	}
	return true, matchesHostname(host, leaf)
}

// matchesHostname checks host against the leaf's DNS SANs, with wildcard
// rules, via Certificate.VerifyHostname (which ignores the subject CN), and
// otherwise accepts a case-insensitive exact match of the subject CN.
func matchesHostname(host string, leaf *x509.Certificate) bool {
	if err := leaf.VerifyHostname(host); err == nil {
		return true
	}
	return strings.EqualFold(leaf.Subject.CommonName, host)
}

// checkMalformed rejects a leaf whose subject or issuer common name
// contains an embedded NUL byte; other certificate fields are not checked.
// The error is a plain error, so Connect reports it as
// CodeTlsVerificationFailed like any other verification failure;
// CodeTlsMalformedCertificate is not produced.
func checkMalformed(leaf *x509.Certificate) error {
	fields := []string{leaf.Subject.CommonName, leaf.Issuer.CommonName}
	for _, f := range fields {
		if strings.IndexByte(f, 0) >= 0 {
			return fmt.Errorf("tlsverify: certificate field contains an embedded NUL byte")
		}
	}
	return nil
}

// PeerVerifyFunc returns a func(rawCerts [][]byte) error suitable for
// *tls.Config.VerifyPeerCertificate (via pki.ClientConfig.Verify): it
// parses the raw DER chain and runs Verify against host:port.
func PeerVerifyFunc(host string, port int, cfg Config) func(rawCerts [][]byte) error {
	return func(rawCerts [][]byte) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("tlsverify: server presented no certificate")
		}
		chain := make([]*x509.Certificate, 0, len(rawCerts))
		for _, der := range rawCerts {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("tlsverify: parsing peer certificate: %w", err)
			}
			chain = append(chain, cert)
		}
		_, err := Verify(host, port, chain[0], chain, cfg)
		return err
	}
}
