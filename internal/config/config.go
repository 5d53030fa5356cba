// Package config loads convmem settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rcliao/convmem/internal/assembler"
	"github.com/rcliao/convmem/internal/embedding"
	"github.com/rcliao/convmem/internal/llm"
)

// EnvPrefix prefixes every environment override, e.g. CONVMEM_EMBED_URL.
const EnvPrefix = "CONVMEM"

// Embed configures the embedding provider.
type Embed struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model"`
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Dims     int           `mapstructure:"dims" yaml:"dims"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Generate configures the text generation provider.
type Generate struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model"`
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the fully resolved configuration.
type Config struct {
	DB         string   `mapstructure:"db" yaml:"db"`
	Budget     int      `mapstructure:"budget" yaml:"budget"`
	Recent     int      `mapstructure:"recent" yaml:"recent"`
	Hits       int      `mapstructure:"hits" yaml:"hits"`
	KeepRecent int      `mapstructure:"keep_recent" yaml:"keep_recent"`
	Distance   string   `mapstructure:"distance" yaml:"distance"`
	Embed      Embed    `mapstructure:"embed" yaml:"embed"`
	Generate   Generate `mapstructure:"generate" yaml:"generate"`
	Log        Log      `mapstructure:"log" yaml:"log"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":         "db",
	"budget":     "budget",
	"recent":     "recent",
	"hits":       "hits",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	def := assembler.DefaultConfig()

	v.SetDefault("db", filepath.Join(home, ".convmem", "convmem.db"))
	v.SetDefault("budget", def.MaxTokens)
	v.SetDefault("recent", def.RecentMessages)
	v.SetDefault("hits", def.Hits)
	v.SetDefault("keep_recent", def.KeepRecent)
	v.SetDefault("distance", string(embedding.MetricL2))

	v.SetDefault("embed.provider", "")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.url", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.dims", 0)
	v.SetDefault("embed.timeout", 30*time.Second)

	v.SetDefault("generate.provider", "")
	v.SetDefault("generate.model", "")
	v.SetDefault("generate.url", "")
	v.SetDefault("generate.api_key", "")
	v.SetDefault("generate.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultFile returns $HOME/.convmem/config.yaml.
func DefaultFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".convmem", "config.yaml")
}

// Load resolves the configuration. An explicit file must exist; the default
// file is read only when present. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case file != "":
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	default:
		if _, err := os.Stat(DefaultFile()); err == nil {
			v.SetConfigFile(DefaultFile())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", DefaultFile(), err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DB = expandHome(cfg.DB)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// Validate rejects settings the assembler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for name, n := range map[string]int{
		"budget":      c.Budget,
		"recent":      c.Recent,
		"hits":        c.Hits,
		"keep_recent": c.KeepRecent,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if _, err := embedding.ParseMetric(c.Distance); err != nil {
		errs = append(errs, err)
	}
	if c.Embed.Dims < 0 {
		errs = append(errs, fmt.Errorf("embed.dims must not be negative, got %d", c.Embed.Dims))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Assembler returns the assembly limits.
func (c *Config) Assembler() assembler.Config {
	return assembler.Config{
		MaxTokens:      c.Budget,
		RecentMessages: c.Recent,
		Hits:           c.Hits,
		KeepRecent:     c.KeepRecent,
	}
}

// Embedding returns the embedding provider settings.
func (c *Config) Embedding() embedding.Config {
	return embedding.Config{
		Provider: c.Embed.Provider,
		Model:    c.Embed.Model,
		URL:      c.Embed.URL,
		APIKey:   c.Embed.APIKey,
		Dims:     c.Embed.Dims,
	}
}

// Generation returns the generation provider settings.
func (c *Config) Generation() llm.Config {
	return llm.Config{
		Provider: c.Generate.Provider,
		Model:    c.Generate.Model,
		URL:      c.Generate.URL,
		APIKey:   c.Generate.APIKey,
	}
}

// Metric returns the parsed distance metric.
func (c *Config) Metric() embedding.Metric {
	m, err := embedding.ParseMetric(c.Distance)
	if err != nil {
		return embedding.MetricL2
	}
	return m
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	r := *c
	if r.Embed.APIKey != "" {
		r.Embed.APIKey = "***"
	}
	if r.Generate.APIKey != "" {
		r.Generate.APIKey = "***"
	}
	return r
}
