// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("DefaultConfig should validate cleanly: %v", err)
	}
}

func TestConfigValidateRejectsOversizedCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Username = strings.Repeat("a", maxCredentialLen+1)
	if CodeOf(cfg.validate()) != CodeInvalidCredentials {
		t.Errorf("expected CodeInvalidCredentials for an oversized username")
	}
}

func TestConfigValidateRejectsQueueSmallerThanPipeline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPipelinedRequests = 10
	cfg.SessionRequestQueueSize = 5
	if cfg.validate() == nil {
		t.Error("expected an error when the queue is smaller than the pipeline window")
	}
}

func TestConfigValidateRejectsBadChunkBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SndMinChunkSize = 100
	cfg.SndMaxChunkSize = 10
	if cfg.validate() == nil {
		t.Error("expected an error when max chunk size is smaller than min")
	}
}

func TestCredentialsPrefersDirectValuesOverCallback(t *testing.T) {
	cfg := Config{Username: "neo4j", Password: "secret", BasicAuthCallback: func() (string, string) {
		t.Fatal("callback should not be invoked when direct credentials are set")
		return "", ""
	}}
	u, p := cfg.credentials()
	if u != "neo4j" || p != "secret" {
		t.Errorf("got (%q, %q)", u, p)
	}
}

func TestCredentialsFallsBackToCallback(t *testing.T) {
	cfg := Config{BasicAuthCallback: func() (string, string) { return "fromcb", "pw" }}
	u, p := cfg.credentials()
	if u != "fromcb" || p != "pw" {
		t.Errorf("got (%q, %q)", u, p)
	}
}

func TestPrivateKeyPasswordPrefersDirectValue(t *testing.T) {
	cfg := Config{TLSPrivateKeyPassword: "direct", TLSPrivateKeyPasswordCallback: func() string {
		t.Fatal("callback should not be invoked when a direct password is set")
		return ""
	}}
	if got := cfg.privateKeyPassword(); got != "direct" {
		t.Errorf("got %q, want %q", got, "direct")
	}
}

func TestPrivateKeyPasswordFallsBackToCallback(t *testing.T) {
	cfg := Config{TLSPrivateKeyPasswordCallback: func() string { return "fromcb" }}
	if got := cfg.privateKeyPassword(); got != "fromcb" {
		t.Errorf("got %q, want %q", got, "fromcb")
	}
}

func TestLoadConfigFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nbolt.yaml")
	contents := `
username: neo4j
password: secret
max_pipelined_requests: 16
trust_known_hosts: true
debug_log_dir: /var/log/nbolt
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Username != "neo4j" || cfg.Password != "secret" {
		t.Errorf("credentials not loaded: %+v", cfg)
	}
	if cfg.MaxPipelinedRequests != 16 {
		t.Errorf("expected overridden MaxPipelinedRequests=16, got %d", cfg.MaxPipelinedRequests)
	}
	if cfg.SessionRequestQueueSize != DefaultConfig().SessionRequestQueueSize {
		t.Errorf("expected SessionRequestQueueSize to keep its default, got %d", cfg.SessionRequestQueueSize)
	}
	if !cfg.TrustKnownHosts {
		t.Error("expected TrustKnownHosts to be loaded as true")
	}
	if cfg.DebugLogDir != "/var/log/nbolt" {
		t.Errorf("got DebugLogDir=%q", cfg.DebugLogDir)
	}
}

func TestLoadConfigFileRejectsInvalidResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nbolt.yaml")
	contents := "max_pipelined_requests: 100\nsession_request_queue_size: 1\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected validation to reject a queue smaller than the pipeline window")
	}
}
