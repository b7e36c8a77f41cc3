// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tofu implements a trust-on-first-use host-fingerprint registry
// backed by a known_hosts-style flat text file, used to vet TLS peers that
// present a certificate chain the TlsVerifier cannot validate against a CA.
package tofu

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Reason explains why the unverified-host callback is being consulted.
type Reason int

const (
	// Unrecognized means the registry has no prior record for this host.
	Unrecognized Reason = iota
	// Mismatch means a prior record disagreed with the presented fingerprint.
	Mismatch
)

// Decision is the caller's verdict on an unrecognized or mismatched host.
type Decision int

const (
	// Reject fails verification.
	Reject Decision = iota
	// AcceptOnce accepts the fingerprint for this connection without
	// persisting it.
	AcceptOnce
	// Trust accepts and persists the fingerprint via the update path.
	Trust
)

// Callback is consulted whenever a host's fingerprint cannot be silently
// confirmed from the registry.
type Callback func(host string, port int, fingerprint string, reason Reason) Decision

// Registry is a known_hosts-style file of "<host>:<port> <hex-fingerprint>"
// records, one per line. Blank lines and lines beginning with '#' are
// ignored; leading whitespace on a record line is tolerated.
type Registry struct {
	path string
}

// Open returns a Registry backed by the file at path. The file itself is
// not created until the first Update; Lookup on a missing file behaves as
// if it were empty.
func Open(path string) *Registry {
	return &Registry{path: path}
}

// DefaultPath returns $HOME/.neo4j/known_hosts.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tofu: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".neo4j", "known_hosts"), nil
}

func recordKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Lookup scans the registry for an exact "<host>:<port>" token and returns
// its stored fingerprint, if any.
func (r *Registry) Lookup(host string, port int) (fingerprint string, found bool, err error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tofu: opening known_hosts: %w", err)
	}
	defer f.Close()

	key := recordKey(host, port)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == key {
			return fields[1], true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", false, fmt.Errorf("tofu: scanning known_hosts: %w", err)
	}
	return "", false, nil
}

// Verdict is the outcome of Check.
type Verdict int

const (
	// Trusted means the presented fingerprint is accepted, whether because
	// it matched an existing record or because the callback approved it.
	Trusted Verdict = iota
	// Rejected means the callback (or the absence of one) refused trust.
	Rejected
)

// Check resolves a presented fingerprint against the registry: a matching
// record trusts silently, as does a stored 127-character fingerprint that
// is a prefix of a presented 128-character one (the record is upgraded);
// no record or a mismatching one consults cb. A nil cb rejects anything
// those two cases do not trust.
func (r *Registry) Check(host string, port int, fingerprint string, cb Callback) (Verdict, error) {
	stored, found, err := r.Lookup(host, port)
	if err != nil {
		return Rejected, err
	}

	if found {
		if stored == fingerprint {
			return Trusted, nil
		}
		if isLegacyMatch(stored, fingerprint) {
			if err := r.Update(host, port, fingerprint); err != nil {
				return Rejected, err
			}
			return Trusted, nil
		}
		return r.consult(host, port, fingerprint, Mismatch, cb)
	}
	return r.consult(host, port, fingerprint, Unrecognized, cb)
}

func (r *Registry) consult(host string, port int, fingerprint string, reason Reason, cb Callback) (Verdict, error) {
	if cb == nil {
		return Rejected, nil
	}
	switch cb(host, port, fingerprint, reason) {
	case Trust:
		if err := r.Update(host, port, fingerprint); err != nil {
			return Rejected, err
		}
		return Trusted, nil
	case AcceptOnce:
		return Trusted, nil
	default:
		return Rejected, nil
	}
}

// isLegacyMatch implements the historical-bug compatibility rule: a stored
// fingerprint of exactly 127 hex chars that agrees with a 128-char
// presented fingerprint on the first 127 chars is treated as a match and
// silently upgraded.
func isLegacyMatch(stored, presented string) bool {
	return len(stored) == 127 && len(presented) == 128 && stored == presented[:127]
}

// Update rewrites the registry so that host:port maps to fingerprint,
// replacing any existing record for that host and leaving all other lines
// untouched. It copies the current file (if any) to a temp file in the
// same directory, creating parent directories as needed, then fsyncs and
// renames over the original. The temp file is removed on any error.
func (r *Registry) Update(host string, port int, fingerprint string) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tofu: creating known_hosts directory: %w", err)
	}

	key := recordKey(host, port)
	var lines []string

	if f, err := os.Open(r.path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				lines = append(lines, line)
				continue
			}
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 && fields[0] == key {
				continue // dropped: replaced below
			}
			lines = append(lines, line)
		}
		scErr := sc.Err()
		f.Close()
		if scErr != nil {
			return fmt.Errorf("tofu: scanning known_hosts: %w", scErr)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("tofu: opening known_hosts: %w", err)
	}

	lines = append(lines, fmt.Sprintf("%s %s", key, fingerprint))

	tmp, err := os.CreateTemp(dir, ".known_hosts.tmp-*")
	if err != nil {
		return fmt.Errorf("tofu: creating temp known_hosts: %w", err)
	}
	tmpPath := tmp.Name()

	for _, line := range lines {
		if _, err := fmt.Fprintln(tmp, line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("tofu: writing temp known_hosts: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("tofu: fsyncing temp known_hosts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tofu: closing temp known_hosts: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tofu: renaming temp known_hosts into place: %w", err)
	}
	return nil
}
