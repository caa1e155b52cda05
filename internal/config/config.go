// Package config provides layered configuration loading for the Fleeting
// service. It merges Defaults -> Environment (FLEETING_*) -> explicit
// overrides (CLI flags), then validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables read by Load.
const EnvPrefix = "FLEETING_"

// DBFile is the SQLite database file name inside DataDir.
const DBFile = "fleeting.db"

// BlobDirName is the blob directory name inside DataDir.
const BlobDirName = "blobs"

const dsnParams = "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"

// Config holds the merged runtime configuration.
type Config struct {
	Addr                 string        `koanf:"addr" validate:"required,ip_port"`
	DataDir              string        `koanf:"data_dir" validate:"required,data_dir"`
	MaxBytes             ByteSize      `koanf:"max_bytes" validate:"gt=0"`
	DefaultLifetimeHours int           `koanf:"default_lifetime_hours" validate:"gt=0"`
	MaxLifetimeHours     int           `koanf:"max_lifetime_hours" validate:"gt=0"`
	ReapInterval         time.Duration `koanf:"reap_interval" validate:"gt=0"`
	OrphanGrace          time.Duration `koanf:"orphan_grace" validate:"gt=0"`
	UploadTimeout        time.Duration `koanf:"upload_timeout" validate:"gt=0"`
	MetricsToken         string        `koanf:"metrics_token"`
	MetricsFlushInterval time.Duration `koanf:"metrics_flush_interval" validate:"gt=0"`
	CORSOrigins          []string      `koanf:"cors_origins"`
	LogLevel             string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat            string        `koanf:"log_format" validate:"oneof=text json"`
}

// DefaultAppConfig is the baseline every Load starts from.
var DefaultAppConfig = Config{
	Addr:                 ":8080",
	DataDir:              "./data",
	MaxBytes:             32 << 20, // 32 MiB
	DefaultLifetimeHours: 24,
	MaxLifetimeHours:     168,
	ReapInterval:         24 * time.Hour,
	OrphanGrace:          time.Minute,
	UploadTimeout:        time.Hour,
	MetricsFlushInterval: 5 * time.Second,
	LogLevel:             "info",
	LogFormat:            "text",
}

// SQLiteDSN returns the DSN for the metadata database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, DBFile) + dsnParams
}

// BlobDir returns the directory holding blob bytes.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, BlobDirName)
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Option mutates the koanf instance after defaults and environment load.
type Option func(k *koanf.Koanf) error

// Override sets key to val, taking precedence over the environment.
func Override(key string, val any) Option {
	return func(k *koanf.Koanf) error { return k.Set(key, val) }
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, v string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), v
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("data_dir", validDataDir)
}

// Load builds a Config from defaults, FLEETING_* environment variables and
// opts, in increasing precedence, and validates it.
func Load(opts ...Option) (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	for _, o := range opts {
		if err := o(k); err != nil {
			return nil, fmt.Errorf("apply override: %w", err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if cfg.DefaultLifetimeHours > cfg.MaxLifetimeHours {
		return nil, errors.New("default_lifetime_hours must not exceed max_lifetime_hours")
	}
	return &cfg, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validIPPort accepts host:port where host is empty or a literal IP and
// port is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validDataDir rejects the filesystem root, the bare working directory and
// any path with a parent traversal segment.
func validDataDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	switch filepath.Clean(p) {
	case ".", "/":
		return false
	}
	return true
}
