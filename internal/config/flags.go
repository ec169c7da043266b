package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/treevault/internal/flagx"
)

// parseFlags overlays selected Config fields from command-line flags.
//
//	-driver string   metadata driver (sqlite|postgres)
//	-d string        database DSN
//	-backend string  blob backend (s3|memory)
//	-e string        S3 endpoint
//	-g string        S3 region
//	-b string        S3 bucket
//	-u / -p string   S3 access key / secret key
//	-path-style      address the bucket by path (MinIO)
//	-hash string     content hash algorithm
//	-retries int     conflict retry attempts
//	-backoff dur     conflict retry base backoff
//	-l string        log level
//	-log-format      text|json
//	-m string        metrics listen address (daemon)
//	-w string        drop directory (daemon)
//	-debounce dur    drop directory quiet period
//	-chunk int       bytes above which uploads report per-part progress
//	-part int        progress part size in bytes
//	-sweep string    cron schedule for orphan sweep (daemon)
//
// Only flags defined here are parsed, so -c and anything foreign never
// trip the flag set.
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("treevault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DatabaseDriver, "driver", cfg.DatabaseDriver, "metadata driver")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.BlobBackend, "backend", cfg.BlobBackend, "blob backend")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.BoolVar(&cfg.S3UsePathStyle, "path-style", cfg.S3UsePathStyle, "path-style bucket addressing")
	fs.StringVar(&cfg.HashAlgorithm, "hash", cfg.HashAlgorithm, "hash algorithm")
	fs.IntVar(&cfg.RetryAttempts, "retries", cfg.RetryAttempts, "conflict retry attempts")
	fs.DurationVar(&cfg.RetryBackoff, "backoff", cfg.RetryBackoff, "conflict retry base backoff")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.DropDir, "w", cfg.DropDir, "drop directory")
	fs.DurationVar(&cfg.DropDebounce, "debounce", cfg.DropDebounce, "drop directory quiet period")
	fs.Int64Var(&cfg.ChunkThreshold, "chunk", cfg.ChunkThreshold, "per-part progress threshold in bytes")
	fs.Int64Var(&cfg.PartSize, "part", cfg.PartSize, "progress part size in bytes")
	fs.StringVar(&cfg.SweepSchedule, "sweep", cfg.SweepSchedule, "orphan sweep cron schedule")

	return flagx.Parse(fs, args)
}
