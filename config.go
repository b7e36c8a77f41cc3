// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"fmt"
	"os"

	"github.com/nishisan-dev/nbolt/internal/tofu"
	"gopkg.in/yaml.v3"
)

// BasicAuthCallback is invoked to obtain credentials when none were
// supplied directly or via the connection URI.
type BasicAuthCallback func() (username, password string)

// PrivateKeyPasswordCallback returns the passphrase protecting
// TLSPrivateKeyFile, if any.
type PrivateKeyPasswordCallback func() string

// Config is the typed option bag a Connect call is built from, per the
// enumerated configuration options.
type Config struct {
	ClientID string

	Username          string
	Password          string
	BasicAuthCallback BasicAuthCallback

	// NoURICredentials suppresses reading both username and password from
	// a connection URI; NoURIPassword suppresses only the password.
	NoURICredentials bool
	NoURIPassword    bool

	TLSPrivateKeyFile             string
	TLSPrivateKeyPassword         string
	TLSPrivateKeyPasswordCallback PrivateKeyPasswordCallback
	TLSCAFile                     string
	TLSCADir                      string

	TrustKnownHosts        bool
	KnownHostsFile         string
	UnverifiedHostCallback tofu.Callback

	SndBufSize   int
	RcvBufSize   int
	SoSndBufSize int
	SoRcvBufSize int

	MaxPipelinedRequests    int
	SessionRequestQueueSize int

	SndMinChunkSize int
	SndMaxChunkSize int

	Logging LoggingConfig

	// DebugLogDir, if set, makes every Connection write its own
	// conn-{id}.log file under this directory at debug level, in addition
	// to the normal process-wide logger. The file is removed on a clean
	// Close.
	DebugLogDir string
}

// maxCredentialLen is the limit spec.md places on username/password.
const maxCredentialLen = 1023

// DefaultConfig returns a Config with the defaults this package uses when
// an option is left at its zero value.
func DefaultConfig() Config {
	return Config{
		ClientID:                "nbolt/1.0",
		MaxPipelinedRequests:    100,
		SessionRequestQueueSize: 8192,
		SndMinChunkSize:         1,
		SndMaxChunkSize:         0xFFFF,
		SndBufSize:              8192,
		RcvBufSize:              8192,
	}
}

func (c *Config) validate() error {
	if len(c.Username) > maxCredentialLen {
		return newErr("Config.validate", CodeInvalidCredentials, fmt.Errorf("username exceeds %d bytes", maxCredentialLen))
	}
	if len(c.Password) > maxCredentialLen {
		return newErr("Config.validate", CodeInvalidCredentials, fmt.Errorf("password exceeds %d bytes", maxCredentialLen))
	}
	if c.SndMinChunkSize <= 0 || c.SndMaxChunkSize < c.SndMinChunkSize || c.SndMaxChunkSize > 0xFFFF {
		return newErr("Config.validate", CodeUnexpectedError, fmt.Errorf("invalid chunk size bounds (%d, %d)", c.SndMinChunkSize, c.SndMaxChunkSize))
	}
	if c.MaxPipelinedRequests <= 0 {
		return newErr("Config.validate", CodeUnexpectedError, fmt.Errorf("max_pipelined_requests must be positive"))
	}
	if c.SessionRequestQueueSize < c.MaxPipelinedRequests {
		return newErr("Config.validate", CodeUnexpectedError, fmt.Errorf("session_request_queue_size must be >= max_pipelined_requests"))
	}
	return nil
}

func (c *Config) resolveKnownHostsPath() (string, error) {
	if c.KnownHostsFile != "" {
		return c.KnownHostsFile, nil
	}
	return tofu.DefaultPath()
}

// credentials resolves the username/password to present in INIT: direct
// config values take precedence, falling back to BasicAuthCallback when
// both are empty.
func (c *Config) credentials() (username, password string) {
	if c.Username != "" || c.Password != "" {
		return c.Username, c.Password
	}
	if c.BasicAuthCallback != nil {
		return c.BasicAuthCallback()
	}
	return "", ""
}

// privateKeyPassword resolves the mTLS private key passphrase: the direct
// config value takes precedence, falling back to the callback when set.
// Per the corrected (non-inverted) behavior, the callback is invoked
// whenever it is non-nil and no direct password was configured.
func (c *Config) privateKeyPassword() string {
	if c.TLSPrivateKeyPassword != "" {
		return c.TLSPrivateKeyPassword
	}
	if c.TLSPrivateKeyPasswordCallback != nil {
		return c.TLSPrivateKeyPasswordCallback()
	}
	return ""
}

// FileConfig mirrors Config for YAML-file based configuration, the way a
// long-running probe or service would load it at startup; callbacks have
// no YAML representation and must be set programmatically after loading.
type FileConfig struct {
	ClientID string `yaml:"client_id"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	NoURICredentials bool `yaml:"no_uri_credentials"`
	NoURIPassword    bool `yaml:"no_uri_password"`

	TLS struct {
		PrivateKeyFile     string `yaml:"private_key_file"`
		PrivateKeyPassword string `yaml:"private_key_password"`
		CAFile             string `yaml:"ca_file"`
		CADir              string `yaml:"ca_dir"`
	} `yaml:"tls"`

	TrustKnownHosts bool   `yaml:"trust_known_hosts"`
	KnownHostsFile  string `yaml:"known_hosts_file"`

	SndBufSize   int `yaml:"sndbuf_size"`
	RcvBufSize   int `yaml:"rcvbuf_size"`
	SoSndBufSize int `yaml:"so_sndbuf_size"`
	SoRcvBufSize int `yaml:"so_rcvbuf_size"`

	MaxPipelinedRequests    int `yaml:"max_pipelined_requests"`
	SessionRequestQueueSize int `yaml:"session_request_queue_size"`

	SndMinChunkSize int `yaml:"snd_min_chunk_size"`
	SndMaxChunkSize int `yaml:"snd_max_chunk_size"`

	Logging     LoggingConfig `yaml:"logging"`
	DebugLogDir string        `yaml:"debug_log_dir"`
}

// LoggingConfig mirrors the level/format/file options internal/logging's
// NewLogger accepts.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadConfigFile reads and parses a YAML FileConfig from path and converts
// it into a Config, layered over DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("nbolt: reading config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("nbolt: parsing config file: %w", err)
	}

	cfg := DefaultConfig()
	if fc.ClientID != "" {
		cfg.ClientID = fc.ClientID
	}
	cfg.Username = fc.Username
	cfg.Password = fc.Password
	cfg.NoURICredentials = fc.NoURICredentials
	cfg.NoURIPassword = fc.NoURIPassword
	cfg.TLSPrivateKeyFile = fc.TLS.PrivateKeyFile
	cfg.TLSPrivateKeyPassword = fc.TLS.PrivateKeyPassword
	cfg.TLSCAFile = fc.TLS.CAFile
	cfg.TLSCADir = fc.TLS.CADir
	cfg.TrustKnownHosts = fc.TrustKnownHosts
	cfg.KnownHostsFile = fc.KnownHostsFile
	if fc.SndBufSize > 0 {
		cfg.SndBufSize = fc.SndBufSize
	}
	if fc.RcvBufSize > 0 {
		cfg.RcvBufSize = fc.RcvBufSize
	}
	cfg.SoSndBufSize = fc.SoSndBufSize
	cfg.SoRcvBufSize = fc.SoRcvBufSize
	if fc.MaxPipelinedRequests > 0 {
		cfg.MaxPipelinedRequests = fc.MaxPipelinedRequests
	}
	if fc.SessionRequestQueueSize > 0 {
		cfg.SessionRequestQueueSize = fc.SessionRequestQueueSize
	}
	if fc.SndMinChunkSize > 0 {
		cfg.SndMinChunkSize = fc.SndMinChunkSize
	}
	if fc.SndMaxChunkSize > 0 {
		cfg.SndMaxChunkSize = fc.SndMaxChunkSize
	}
	cfg.Logging = fc.Logging
	cfg.DebugLogDir = fc.DebugLogDir

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
