// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Tinyfish      TinyfishConfig      `yaml:"tinyfish" mapstructure:"tinyfish"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Investigation InvestigationConfig `yaml:"investigation" mapstructure:"investigation"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// TinyfishConfig holds web-automation agent API settings.
type TinyfishConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// AnthropicConfig holds completion service settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// InvestigationConfig configures the coordinator and the caller-side poll loop.
type InvestigationConfig struct {
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FastMode         bool     `yaml:"fast_mode" mapstructure:"fast_mode"`
	PollIntervalMS   int      `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollTimeoutSecs  int      `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
	PlatformsScanned []string `yaml:"platforms_scanned" mapstructure:"platforms_scanned"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	StreamTimeoutSecs int      `yaml:"stream_timeout_secs" mapstructure:"stream_timeout_secs"`
	HeartbeatSecs     int      `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envPrefix is the environment variable prefix: COSTSCAN_TINYFISH_KEY etc.
const envPrefix = "COSTSCAN"

func setDefaults(v *viper.Viper) {
	v.SetDefault("tinyfish.key", "")
	v.SetDefault("tinyfish.base_url", "https://api.tinyfish.ai/v1")
	v.SetDefault("tinyfish.rate_per_sec", 2.0)
	v.SetDefault("tinyfish.rate_burst", 4)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("investigation.timeout_secs", 100)
	v.SetDefault("investigation.fast_mode", true)
	v.SetDefault("investigation.poll_interval_ms", 3500)
	v.SetDefault("investigation.poll_timeout_secs", 300)
	v.SetDefault("investigation.platforms_scanned", []string{
		"Target Site", "GitHub", "LinkedIn", "Glassdoor", "Levels.fyi",
		"AWS Calculator", "Cloudflare Radar", "SimilarWeb", "G2", "Reddit",
	})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.stream_timeout_secs", 120)
	v.SetDefault("server.heartbeat_secs", 25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from config.yaml and COSTSCAN_* environment
// variables. The config file is optional.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Default returns the built-in defaults without touching the filesystem or
// environment. Used by `config init` to write a starter config.yaml.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// MissingRuntimeEnv returns the env var names for required credentials that
// are not set, in stable order. Empty means the process can serve requests.
func (c *Config) MissingRuntimeEnv() []string {
	var missing []string
	if c.Tinyfish.Key == "" {
		missing = append(missing, envPrefix+"_TINYFISH_KEY")
	}
	if c.Anthropic.Key == "" {
		missing = append(missing, envPrefix+"_ANTHROPIC_KEY")
	}
	return missing
}

// MissingEnvError is returned when required runtime credentials are unset.
// Fatal to the request, not to the process.
type MissingEnvError struct {
	Missing []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

// CheckRuntimeEnv returns a *MissingEnvError if any required credential is unset.
func (c *Config) CheckRuntimeEnv() error {
	if missing := c.MissingRuntimeEnv(); len(missing) > 0 {
		return &MissingEnvError{Missing: missing}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
