package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Environment variables recognised by FromEnv.
const (
	EnvConfig    = "PEP_CONFIG"
	EnvCID       = "PEP_VSOCK_CID"
	EnvPort      = "PEP_VSOCK_PORT"
	EnvTransport = "PEP_TRANSPORT"
	EnvAddress   = "PEP_ADDRESS"
	EnvTimeout   = "PEP_TIMEOUT"
	EnvLogLevel  = "PEP_LOG_LEVEL"
)

// RemoteConfig identifies the policy-enforcement stub.
type RemoteConfig struct {
	Transport     string        `toml:"transport" validate:"oneof=vsock tcp unix"`
	CID           uint32        `toml:"cid"`
	Port          uint32        `toml:"port" validate:"required_if=Transport vsock"`
	Address       string        `toml:"address" validate:"required_unless=Transport vsock"`
	Timeout       time.Duration `toml:"timeout" validate:"gt=0"`
	MaxFrameBytes uint32        `toml:"maxFrameBytes"`
}

// RetryConfig shapes the fetch-demo retry loop.
type RetryConfig struct {
	MaxAttempts int           `toml:"maxAttempts" validate:"gte=1"`
	Interval    time.Duration `toml:"interval" validate:"gte=0"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB" validate:"gte=0"`
	FileBackups int    `toml:"fileMaxBackups" validate:"gte=0"`
}

// JournalConfig enables the SQLite fetch journal when Path is set.
type JournalConfig struct {
	Path string `toml:"path"`
}

// Config is the complete client configuration. It is passed explicitly to
// whatever needs it; nothing reads the environment after FromEnv.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Retry   RetryConfig   `toml:"retry"`
	Logging LoggingConfig `toml:"logging"`
	Journal JournalConfig `toml:"journal"`
}

var validate = validator.New()

// Default returns the built-in configuration: host stub over vsock port
// 4040, 15s per attempt, 10 attempts 2s apart.
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			Transport:     "vsock",
			CID:           2,
			Port:          4040,
			Timeout:       15 * time.Second,
			MaxFrameBytes: 16 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 10,
			Interval:    2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "warn",
			FileMaxSize: 10,
			FileBackups: 3,
		},
	}
}

// Load reads a TOML file on top of the defaults. Relative file paths in it
// (journal, log file) are taken relative to the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	base := filepath.Dir(path)
	cfg.Journal.Path = ResolvePath(base, cfg.Journal.Path)
	cfg.Logging.FilePath = ResolvePath(base, cfg.Logging.FilePath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as TOML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Resolve builds the effective configuration: defaults, then the file named
// by path (or PEP_CONFIG when path is empty), then environment overrides.
// A missing file is only an error when one was asked for explicitly.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = getenv(EnvConfig)
	}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if err := FromEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv applies PEP_* environment overrides to cfg.
func FromEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvTransport); v != "" {
		cfg.Remote.Transport = strings.ToLower(v)
	}
	if v := getenv(EnvCID); v != "" {
		cid, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCID, err)
		}
		cfg.Remote.CID = uint32(cid)
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Remote.Port = uint32(port)
	}
	if v := getenv(EnvAddress); v != "" {
		cfg.Remote.Address = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Remote.Timeout = d
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks field constraints.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ResolvePath returns path relative to base unless it is already absolute.
func ResolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
