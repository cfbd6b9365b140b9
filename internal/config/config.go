// Package config provides layered configuration loading for the storyhost
// service. It merges Defaults -> YAML file -> Environment Variables -> CLI
// flag overrides, decodes the result with mapstructure hooks and validates it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
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

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "STORYHOST_"

// ConfigFileEnv names the environment variable holding an optional YAML
// configuration file path.
const ConfigFileEnv = EnvPrefix + "CONFIG"

// Config holds the merged runtime configuration for the storyhost service.
type Config struct {
	Addr            string        `koanf:"addr" validate:"required,ip_port"`          // listen address, e.g. ":35540"
	DataDir         string        `koanf:"data_dir" validate:"required,data_dir"`     // storage root holding meta/, thumbnails/, videos/
	AuthKey         string        `koanf:"auth_key" validate:"required"`              // shared secret of the administrative channel
	MaxUploadBytes  ByteSize      `koanf:"max_upload_bytes" validate:"gt=0"`          // ceiling per uploaded part
	MaxStories      int           `koanf:"max_stories" validate:"gt=0"`               // ceiling on stored stories
	JanitorInterval time.Duration `koanf:"janitor_interval" validate:"gt=0"`          // period of the orphan sweep and recount
	OrphanGrace     time.Duration `koanf:"orphan_grace" validate:"gte=0"`             // minimum age of swept orphan media
	WatchMeta       bool          `koanf:"watch_meta"`                                // recount when metadata is removed externally
	MetricsToken    string        `koanf:"metrics_token"`                             // bearer token for /metrics (empty = open)
	MetricsFlush    time.Duration `koanf:"metrics_flush" validate:"gt=0"`             // metrics flush cadence
	LogLevel        string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `koanf:"log_format" validate:"oneof=text json"`
}

// DefaultAppConfig holds the defaults every other layer overrides.
var DefaultAppConfig = Config{
	Addr:            ":35540",
	DataDir:         "./storage",
	MaxUploadBytes:  5 << 20, // 5 MiB
	MaxStories:      1000,
	JanitorInterval: 10 * time.Minute,
	OrphanGrace:     time.Minute,
	WatchMeta:       true,
	MetricsFlush:    5 * time.Second,
	LogLevel:        "info",
	LogFormat:       "text",
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	file      string
	overrides map[string]any
}

// WithFile layers the YAML file at path between the defaults and the
// environment. An empty path is ignored.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithOverrides layers values (keyed like the koanf tags) on top of
// everything else; the CLI passes explicitly set flags this way.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) { o.overrides = values }
}

// loaders are package variables so tests can force failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	fileLoader = func(k *koanf.Koanf, path string) error {
		return k.Load(yamlFile(path), yamlParser{})
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix:        EnvPrefix,
			TransformFunc: envKey,
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("data_dir", validDataDir)
	}
)

// envKey maps STORYHOST_MAX_STORIES to max_stories. The config file variable
// is not a setting and is dropped.
func envKey(k, v string) (string, any) {
	if k == ConfigFileEnv {
		return "", nil
	}
	return strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), v
}

// Load builds the configuration. Without WithFile the YAML file named by
// STORYHOST_CONFIG, if any, is used.
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{file: os.Getenv(ConfigFileEnv)}
	for _, opt := range opts {
		opt(&o)
	}
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if o.file != "" {
		if err := fileLoader(k, o.file); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if len(o.overrides) > 0 {
		if err := k.Load(overrides(o.overrides), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSize(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	return &cfg, nil
}

// describe turns validator errors into one readable error per field without
// echoing values (auth_key must never reach the logs).
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q validation", fe.Field(), fe.Tag()))
	}
	return errors.Join(msgs...)
}

// validIPPort accepts "ip:port" or ":port" with a numeric port in 1..65535.
// Hostnames are rejected so the bind address is unambiguous.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return p >= 1 && p <= 65535
}

// validDataDir rejects the filesystem root, the bare current directory and any
// path with a parent reference.
func validDataDir(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	if c := filepath.Clean(s); c == "." || c == string(filepath.Separator) {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(s), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// SQLiteDSN returns the DSN of the metrics database kept inside DataDir.
func (c *Config) SQLiteDSN() string {
	p := c.DataDir
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return "file:" + p + "storyhost.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
