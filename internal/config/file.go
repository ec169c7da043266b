package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/treevault/internal/flagx"
	"github.com/dmitrijs2005/treevault/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. Durations use
// timex.Duration so they may be written as "100ms" or as nanoseconds.
// Pointer fields distinguish "absent" from an explicit zero.
type FileConfig struct {
	DatabaseDriver string `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN    string `json:"database_dsn" yaml:"database_dsn"`

	BlobBackend    string `json:"blob_backend" yaml:"blob_backend"`
	S3Endpoint     string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3AccessKey    string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3UsePathStyle *bool  `json:"s3_use_path_style" yaml:"s3_use_path_style"`

	HashAlgorithm  string          `json:"hash_algorithm" yaml:"hash_algorithm"`
	ChunkThreshold int64           `json:"chunk_threshold" yaml:"chunk_threshold"`
	PartSize       int64           `json:"part_size" yaml:"part_size"`
	RetryAttempts  int             `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff   *timex.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	MetricsAddr   string          `json:"metrics_addr" yaml:"metrics_addr"`
	DropDir       string          `json:"drop_dir" yaml:"drop_dir"`
	DropDebounce  *timex.Duration `json:"drop_debounce" yaml:"drop_debounce"`
	SweepSchedule string          `json:"sweep_schedule" yaml:"sweep_schedule"`
}

// parseFile overlays values from the file given via -c/-config.
// Format follows the extension: .yaml/.yml is YAML, anything else JSON.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setString(&cfg.DatabaseDriver, fc.DatabaseDriver)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.BlobBackend, fc.BlobBackend)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setString(&cfg.HashAlgorithm, fc.HashAlgorithm)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.DropDir, fc.DropDir)
	setString(&cfg.SweepSchedule, fc.SweepSchedule)

	if fc.S3UsePathStyle != nil {
		cfg.S3UsePathStyle = *fc.S3UsePathStyle
	}
	if fc.ChunkThreshold > 0 {
		cfg.ChunkThreshold = fc.ChunkThreshold
	}
	if fc.PartSize > 0 {
		cfg.PartSize = fc.PartSize
	}
	if fc.RetryAttempts > 0 {
		cfg.RetryAttempts = fc.RetryAttempts
	}
	if fc.RetryBackoff != nil {
		cfg.RetryBackoff = fc.RetryBackoff.Duration
	}
	if fc.DropDebounce != nil {
		cfg.DropDebounce = fc.DropDebounce.Duration
	}
}
