// Package config handles treevault configuration: defaults, an optional
// JSON or YAML file overlay, command-line flags and validation.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MiB = 1 << 20
)

// Config holds runtime settings shared by the REPL and the daemon.
//
// Fields:
//   - DatabaseDriver / DatabaseDSN: metadata store ("sqlite" or "postgres").
//   - BlobBackend: "s3" for MinIO/S3, "memory" for an in-process store.
//   - S3*: object storage settings for the s3 backend.
//   - HashAlgorithm: content fingerprint ("blake3", "blake2b", "md5").
//   - ChunkThreshold / PartSize: files above the threshold report progress per part.
//   - RetryAttempts / RetryBackoff: optimistic-concurrency retry policy.
//   - MetricsAddr, DropDir, SweepSchedule: daemon-only features, empty disables.
type Config struct {
	DatabaseDriver string `validate:"oneof=sqlite postgres"`
	DatabaseDSN    string `validate:"required"`

	BlobBackend    string `validate:"oneof=s3 memory"`
	S3Endpoint     string `validate:"required_if=BlobBackend s3"`
	S3Region       string `validate:"required_if=BlobBackend s3"`
	S3Bucket       string `validate:"required_if=BlobBackend s3"`
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	HashAlgorithm  string        `validate:"oneof=blake3 blake2b md5"`
	ChunkThreshold int64         `validate:"gt=0"`
	PartSize       int64         `validate:"gt=0"`
	RetryAttempts  int           `validate:"gte=1,lte=10"`
	RetryBackoff   time.Duration `validate:"gte=0"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	MetricsAddr   string
	DropDir       string
	DropDebounce  time.Duration `validate:"gte=0"`
	SweepSchedule string
}

// LoadDefaults populates Config with local development defaults:
// a SQLite file next to the binary and a MinIO on localhost.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "file:treevault.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	c.BlobBackend = "s3"
	c.S3Endpoint = "http://127.0.0.1:9000"
	c.S3Region = "us-east-1"
	c.S3Bucket = "treevault"
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3UsePathStyle = true
	c.HashAlgorithm = "blake3"
	c.ChunkThreshold = 10 * MiB
	c.PartSize = 30 * MiB
	c.RetryAttempts = 3
	c.RetryBackoff = 100 * time.Millisecond
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.DropDebounce = 500 * time.Millisecond
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load builds a Config from defaults, then the file named by -c/-config in
// args (if any), then flags from args, and validates the result.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
