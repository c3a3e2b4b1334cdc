// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"barney.ci/go-varstore/guard"
)

const (
	DefaultDirName  = ".varstore"
	DefaultFile     = "varstore.json"
	DefaultLogFile  = "varstore.log"
	DefaultLogLevel = "info"
)

// Config describes where a store lives and how it behaves. It replaces any
// notion of a process-wide default store: build one with DefaultConfig or
// LoadConfig, then call Open.
type Config struct {
	// Dir holds the document and the log file.
	Dir string
	// File is the document path, relative to Dir unless absolute.
	File string
	// LogFile is the log path, relative to Dir unless absolute. Empty
	// disables file logging, leaving slog.Default in charge.
	LogFile string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Wait is the guard wait strategy: kernel, notify or poll.
	Wait            string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// ReclaimStale lets waiters remove markers left behind by crashed
	// processes. See guard.WithReclaimStale.
	ReclaimStale bool

	// DecodeCache is the decode cache size in bytes; 0 disables it.
	DecodeCache int64
}

// DefaultDir returns the default store directory: a hidden directory next
// to the running executable.
func DefaultDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), DefaultDirName), nil
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() (*Config, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		Dir:             dir,
		File:            DefaultFile,
		LogFile:         DefaultLogFile,
		LogLevel:        DefaultLogLevel,
		Wait:            guard.WaitKernel.String(),
		PollInterval:    guard.DefaultPollInterval,
		MaxPollInterval: guard.DefaultMaxPollInterval,
	}, nil
}

// LoadConfig builds a configuration from, in increasing order of priority,
// the defaults, the optional config file, and VARSTORE_* environment
// variables (e.g. VARSTORE_DIR, VARSTORE_LOG_LEVEL). .env and .env.local in
// the working directory are loaded into the environment first.
func LoadConfig(file string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	def, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("varstore")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("dir", def.Dir)
	v.SetDefault("file", def.File)
	v.SetDefault("log-file", def.LogFile)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("wait", def.Wait)
	v.SetDefault("poll-interval", def.PollInterval)
	v.SetDefault("max-poll-interval", def.MaxPollInterval)
	v.SetDefault("reclaim-stale", def.ReclaimStale)
	v.SetDefault("decode-cache", def.DecodeCache)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("varstore: read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Dir:             v.GetString("dir"),
		File:            v.GetString("file"),
		LogFile:         v.GetString("log-file"),
		LogLevel:        v.GetString("log-level"),
		Wait:            v.GetString("wait"),
		PollInterval:    v.GetDuration("poll-interval"),
		MaxPollInterval: v.GetDuration("max-poll-interval"),
		ReclaimStale:    v.GetBool("reclaim-stale"),
		DecodeCache:     v.GetInt64("decode-cache"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have a fixed set of values.
func (c *Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("varstore: no document file configured")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := guard.ParseWaitStrategy(c.Wait); err != nil {
		return err
	}
	return nil
}

// Path returns the document path.
func (c *Config) Path() string {
	return c.resolve(c.File)
}

// LogPath returns the log file path, or "" if file logging is disabled.
func (c *Config) LogPath() string {
	if c.LogFile == "" {
		return ""
	}
	return c.resolve(c.LogFile)
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// Options translates the configuration into store options. It does not set
// up logging; Open does.
func (c *Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	wait, _ := guard.ParseWaitStrategy(c.Wait)
	opts := []Option{
		WithGuardOptions(
			guard.WithWaitStrategy(wait),
			guard.WithPollInterval(c.PollInterval, c.MaxPollInterval),
			guard.WithReclaimStale(c.ReclaimStale),
		),
	}
	if c.DecodeCache > 0 {
		opts = append(opts, WithDecodeCache(c.DecodeCache))
	}
	return opts, nil
}

// Open creates the store directory if needed and opens the configured
// store, logging to the configured log file. Extra options are applied
// last.
func (c *Config) Open(ctx context.Context, extra ...Option) (*Store, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.Dir, 0777); err != nil {
		return nil, err
	}

	if path := c.LogPath(); path != "" {
		level, _ := parseLogLevel(c.LogLevel)
		logFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
		opts = append(opts, WithLogger(logger), withCloser(logFile))
	}

	return Open(ctx, c.Path(), append(opts, extra...)...)
}

// OpenDefault opens the store described by LoadConfig with no config file.
func OpenDefault(ctx context.Context, extra ...Option) (*Store, error) {
	cfg, err := LoadConfig("")
	if err != nil {
		return nil, err
	}
	return cfg.Open(ctx, extra...)
}

// String returns a formatted representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Directory", c.Dir)
	addField("Document", c.Path())
	addField("Decode Cache", fmt.Sprintf("%d bytes", c.DecodeCache))

	addSection("Logging")
	addField("Log File", c.LogPath())
	addField("Log Level", c.LogLevel)

	addSection("Locking")
	addField("Wait Strategy", c.Wait)
	addField("Poll Interval", c.PollInterval.String())
	addField("Max Poll Interval", c.MaxPollInterval.String())
	addField("Reclaim Stale", fmt.Sprintf("%t", c.ReclaimStale))

	return sb.String()
}

// parseLogLevel converts a level name to a slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}
