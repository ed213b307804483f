// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file when --config is
// not given.
const EnvironmentVariable = "CACHEPUSH_CONFIG"

// Queue full policies.
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
	PolicyReject     = "reject"
)

// Payload compression names accepted in CacheTarget.Compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config is the complete agent configuration.
type Config struct {
	// Hostname identifies this machine to the self-upload guard.
	// Empty means os.Hostname().
	Hostname string `yaml:"hostname"`

	// ExcludedHosts lists machines that serve a cache. An agent
	// running on one of them refuses to start, since it would push
	// the cache's own contents back into itself.
	ExcludedHosts []string `yaml:"excluded_hosts"`

	// SocketPath is the Unix socket the post-build hook connects to.
	SocketPath string `yaml:"socket_path"`

	// StateDirectory holds the dead-letter database.
	StateDirectory string `yaml:"state_directory"`

	// StatusListen is a host:port for the status and event stream
	// HTTP server. Empty disables it.
	StatusListen string `yaml:"status_listen"`

	Caches      []CacheTarget     `yaml:"caches"`
	Queue       QueueConfig       `yaml:"queue"`
	Workers     WorkersConfig     `yaml:"workers"`
	Retry       RetryConfig       `yaml:"retry"`
	Filter      FilterConfig      `yaml:"filter"`
	Upload      UploadConfig      `yaml:"upload"`
	DeadLetter  DeadLetterConfig  `yaml:"dead_letter"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CacheTarget is one remote binary cache.
type CacheTarget struct {
	// Name is unique across targets and appears in the upload URL.
	Name string `yaml:"name"`

	// Endpoint is an http(s) base URL, or s3://bucket for the S3
	// transport.
	Endpoint string `yaml:"endpoint"`

	// Token is a credential reference: env:NAME, file:/path, or
	// sealed:/path.age.
	Token string `yaml:"token"`

	// Compression is none, zstd, or lz4. Defaults to zstd.
	Compression string `yaml:"compression"`

	// Region applies to s3 endpoints only.
	Region string `yaml:"region"`

	// S3Endpoint overrides the S3 API endpoint for S3-compatible
	// stores (MinIO, Garage, R2).
	S3Endpoint string `yaml:"s3_endpoint"`
}

// QueueConfig bounds the pending upload queue.
type QueueConfig struct {
	Capacity     int           `yaml:"capacity"`
	Policy       string        `yaml:"policy"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// WorkersConfig sizes the upload pool.
type WorkersConfig struct {
	Count int `yaml:"count"`
}

// RetryConfig controls backoff between attempts on transient
// failures. The delay before attempt n+1 is InitialBackoff·2^(n-1),
// capped at MaxBackoff, then scaled by a random factor in
// [1-Jitter, 1+Jitter].
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         float64       `yaml:"jitter"`
}

// FilterConfig lists derivation and output name patterns that are
// never uploaded.
type FilterConfig struct {
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// UploadConfig tunes individual upload attempts.
type UploadConfig struct {
	// Timeout bounds a single push, including NAR serialization.
	Timeout time.Duration `yaml:"timeout"`

	// VerifyStorePaths asks the local store whether a path is still
	// valid before pushing it.
	VerifyStorePaths bool `yaml:"verify_store_paths"`
}

// DeadLetterConfig configures the exhausted-job store.
type DeadLetterConfig struct {
	Path string `yaml:"path"`

	// ReplaySchedule is a standard five-field cron expression. When
	// set, dead-lettered jobs are re-enqueued on that schedule.
	ReplaySchedule string `yaml:"replay_schedule"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	GraceTimeout time.Duration `yaml:"grace_timeout"`
}

// CredentialsConfig configures token resolution.
type CredentialsConfig struct {
	// AgeIdentity is the identity file used for sealed: references.
	AgeIdentity string `yaml:"age_identity"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every optional field set.
// It has no caches, so it does not validate on its own.
func Default() *Config {
	return &Config{
		SocketPath:     "/run/cachepush/trigger.sock",
		StateDirectory: "${STATE_DIRECTORY:-/var/lib/cachepush}",
		Queue: QueueConfig{
			Capacity:     1024,
			Policy:       PolicyBlock,
			BlockTimeout: 5 * time.Second,
		},
		Workers: WorkersConfig{Count: 4},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Jitter:         0.2,
		},
		Filter: FilterConfig{
			ExcludePatterns: []string{"*-source.drv", "*.tmp.drv"},
		},
		Upload: UploadConfig{
			Timeout: 10 * time.Minute,
		},
		DeadLetter: DeadLetterConfig{
			Path: "${CACHEPUSH_STATE}/deadletter.db",
		},
		Shutdown: ShutdownConfig{
			GraceTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by CACHEPUSH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your cachepush configuration or pass --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads, expands, and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration data over the defaults. extension
// selects the syntax (".json"/".jsonc" or anything else for YAML).
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.applyCacheDefaults()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Cache returns the target with the given name.
func (c *Config) Cache(name string) (CacheTarget, bool) {
	for _, target := range c.Caches {
		if target.Name == name {
			return target, true
		}
	}
	return CacheTarget{}, false
}

func (c *Config) applyCacheDefaults() {
	for index := range c.Caches {
		if c.Caches[index].Compression == "" {
			c.Caches[index].Compression = CompressionZstd
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{}
	c.StateDirectory = expandVars(c.StateDirectory, vars)
	vars["CACHEPUSH_STATE"] = c.StateDirectory

	c.SocketPath = expandVars(c.SocketPath, vars)
	c.DeadLetter.Path = expandVars(c.DeadLetter.Path, vars)
	c.Credentials.AgeIdentity = expandVars(c.Credentials.AgeIdentity, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Caches) == 0 {
		errs = append(errs, errors.New("at least one entry in caches is required"))
	}
	seen := make(map[string]bool, len(c.Caches))
	for index, target := range c.Caches {
		prefix := fmt.Sprintf("caches[%d]", index)
		if target.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if seen[target.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", prefix, target.Name))
		} else if strings.ContainsAny(target.Name, "/?#") {
			errs = append(errs, fmt.Errorf("%s.name %q must not contain '/', '?' or '#'", prefix, target.Name))
		}
		seen[target.Name] = true

		if err := validateEndpoint(target.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("%s.endpoint: %w", prefix, err))
		}
		if target.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", prefix))
		} else if strings.HasPrefix(target.Token, "sealed:") && c.Credentials.AgeIdentity == "" {
			errs = append(errs, fmt.Errorf("%s.token uses sealed: but credentials.age_identity is not set", prefix))
		}
		switch target.Compression {
		case CompressionNone, CompressionZstd, CompressionLZ4:
		default:
			errs = append(errs, fmt.Errorf("%s.compression must be one of none, zstd, lz4", prefix))
		}
	}

	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.DeadLetter.Path == "" {
		errs = append(errs, errors.New("dead_letter.path is required"))
	}
	if c.DeadLetter.ReplaySchedule != "" {
		if _, err := cron.ParseStandard(c.DeadLetter.ReplaySchedule); err != nil {
			errs = append(errs, fmt.Errorf("dead_letter.replay_schedule: %w", err))
		}
	}

	if c.Queue.Capacity <= 0 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	switch c.Queue.Policy {
	case PolicyBlock:
		if c.Queue.BlockTimeout <= 0 {
			errs = append(errs, errors.New("queue.block_timeout must be positive with the block policy"))
		}
	case PolicyDropOldest, PolicyReject:
	default:
		errs = append(errs, fmt.Errorf("queue.policy must be one of %s, %s, %s", PolicyBlock, PolicyDropOldest, PolicyReject))
	}

	if c.Workers.Count <= 0 {
		errs = append(errs, errors.New("workers.count must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry backoff requires 0 < initial_backoff <= max_backoff"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, errors.New("retry.jitter must be in [0, 1)"))
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, errors.New("upload.timeout must be positive"))
	}
	if c.Shutdown.GraceTimeout < 0 {
		errs = append(errs, errors.New("shutdown.grace_timeout must not be negative"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("logging.level must be one of debug, info, warn, error"))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, errors.New("logging.format must be json or text"))
	}

	return errors.Join(errs...)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "s3":
	default:
		return fmt.Errorf("scheme %q is not http, https, or s3", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("has no host")
	}
	return nil
}
