// Package config loads skyrelay settings from config.toml, SKYRELAY_*
// environment variables and the legacy variable names of the original bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/skyrelay/internal/retry"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "SKYRELAY"

	// Dir is the configuration directory relative to $HOME.
	Dir = ".config/skyrelay"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bluesky  Bluesky
	Telegram Telegram
	Session  Session
	DeepL    DeepL
	Metrics  Metrics
	Status   Status
	Secrets  Secrets
	Logging  Logging
}

type Bluesky struct {
	Server     string
	Identifier string
	// Password may be a "secret:<key>" reference into the secret store.
	Password     string
	PollInterval time.Duration
	MaxErrors    int
	PageSize     int
}

type Telegram struct {
	APIURL string
	// Token may be a "secret:<key>" reference into the secret store.
	Token       string
	ChatID      int64
	DebugChatID int64
	PollTimeout time.Duration
	SendRate    float64
	SendBurst   int
	SendRetry   retry.Budget
}

type Session struct {
	Lifetime time.Duration
}

type DeepL struct {
	// APIKey may be a "secret:<key>" reference. Empty disables translation.
	APIKey     string
	APIURL     string
	TargetLang string
	Retry      retry.Budget
}

type Metrics struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string
}

type Status struct {
	Path       string
	StaleAfter time.Duration
}

type Secrets struct {
	Dir string
}

type Logging struct {
	Level  string
	Format string
}

// legacyEnv maps configuration keys to the environment variables the
// original deployment used.
var legacyEnv = map[string]string{
	"bluesky.server":        "BSKY_SRV",
	"bluesky.identifier":    "BSKY_ID",
	"bluesky.password":      "BSKY_PASS",
	"bluesky.poll_interval": "BSKY_FETCH_RATE",
	"bluesky.max_errors":    "BSKY_MAX_RETRY",
	"bluesky.page_size":     "BSKY_FETCH_WINDOW",
	"telegram.max_retry":    "BOT_MAX_RETRY",
	"telegram.retry_after":  "BOT_RETRY_AFTER",
	"session.lifetime":      "BOT_CTX_LENGTH",
	"deepl.api_key":         "DEEPL_API_KEY",
	"deepl.max_retry":       "DEEPL_MAX_RETRY",
	"deepl.retry_after":     "DEEPL_RETRY_AFTER",
}

// NewViper returns a viper instance with every default, the config file
// search path and the environment bindings in place. The config file is not
// read yet.
func NewViper() (*viper.Viper, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	configDir := filepath.Join(homeDir, Dir)

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(configDir)

	v.SetDefault("bluesky.server", "https://bsky.social")
	v.SetDefault("bluesky.poll_interval", "60s")
	v.SetDefault("bluesky.max_errors", 5)
	v.SetDefault("bluesky.page_size", 50)

	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.send_rate", 1.0)
	v.SetDefault("telegram.send_burst", 3)
	v.SetDefault("telegram.max_retry", 3)
	v.SetDefault("telegram.retry_after", "5s")

	v.SetDefault("session.lifetime", "30m")

	v.SetDefault("deepl.target_lang", "EN-US")
	v.SetDefault("deepl.max_retry", 3)
	v.SetDefault("deepl.retry_after", "2s")

	v.SetDefault("metrics.addr", "127.0.0.1:9464")
	v.SetDefault("status.path", filepath.Join(configDir, "status.toml"))
	v.SetDefault("status.stale_after", "10m")
	v.SetDefault("secrets.dir", filepath.Join(configDir, "secrets"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return v, nil
}

// ReadInConfig reads config.toml when present. A missing file is not an error.
func ReadInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	var errs []error

	duration := func(key string) time.Duration {
		d, err := parseDuration(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	cfg.Bluesky = Bluesky{
		Server:       strings.TrimRight(v.GetString("bluesky.server"), "/"),
		Identifier:   v.GetString("bluesky.identifier"),
		Password:     v.GetString("bluesky.password"),
		PollInterval: duration("bluesky.poll_interval"),
		MaxErrors:    v.GetInt("bluesky.max_errors"),
		PageSize:     v.GetInt("bluesky.page_size"),
	}
	cfg.Telegram = Telegram{
		APIURL:      strings.TrimRight(v.GetString("telegram.api_url"), "/"),
		Token:       v.GetString("telegram.token"),
		ChatID:      v.GetInt64("telegram.chat_id"),
		DebugChatID: v.GetInt64("telegram.debug_chat_id"),
		PollTimeout: duration("telegram.poll_timeout"),
		SendRate:    v.GetFloat64("telegram.send_rate"),
		SendBurst:   v.GetInt("telegram.send_burst"),
		SendRetry: retry.Budget{
			Attempts: v.GetInt("telegram.max_retry"),
			Delay:    duration("telegram.retry_after"),
		},
	}
	cfg.Session = Session{Lifetime: duration("session.lifetime")}
	cfg.DeepL = DeepL{
		APIKey:     v.GetString("deepl.api_key"),
		APIURL:     strings.TrimRight(v.GetString("deepl.api_url"), "/"),
		TargetLang: v.GetString("deepl.target_lang"),
		Retry: retry.Budget{
			Attempts: v.GetInt("deepl.max_retry"),
			Delay:    duration("deepl.retry_after"),
		},
	}
	cfg.Metrics = Metrics{Addr: v.GetString("metrics.addr")}
	cfg.Status = Status{
		Path:       v.GetString("status.path"),
		StaleAfter: duration("status.stale_after"),
	}
	cfg.Secrets = Secrets{Dir: v.GetString("secrets.dir")}
	cfg.Logging = Logging{
		Level:  v.GetString("logging.level"),
		Format: v.GetString("logging.format"),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks the settings the relay needs to run.
func (c Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.Bluesky.Server != "", "bluesky.server is required")
	require(c.Bluesky.Identifier != "", "bluesky.identifier is required")
	require(c.Bluesky.Password != "", "bluesky.password is required")
	require(c.Bluesky.PollInterval > 0, "bluesky.poll_interval must be positive, got %s", c.Bluesky.PollInterval)
	require(c.Bluesky.MaxErrors > 0, "bluesky.max_errors must be positive, got %d", c.Bluesky.MaxErrors)
	require(c.Bluesky.PageSize > 0 && c.Bluesky.PageSize <= 100, "bluesky.page_size must be within 1..100, got %d", c.Bluesky.PageSize)
	require(c.Telegram.Token != "", "telegram.token is required")
	require(c.Telegram.ChatID != 0, "telegram.chat_id is required")
	require(c.Telegram.SendRate > 0, "telegram.send_rate must be positive")
	require(c.Telegram.SendRetry.Attempts >= 0, "telegram.max_retry must not be negative")
	require(c.Session.Lifetime > 0, "session.lifetime must be positive, got %s", c.Session.Lifetime)
	require(c.DeepL.Retry.Attempts >= 0, "deepl.max_retry must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// TranslationEnabled reports whether a DeepL key is configured.
func (c Config) TranslationEnabled() bool {
	return strings.TrimSpace(c.DeepL.APIKey) != ""
}

// parseDuration accepts Go duration strings. Bare integers are read as
// milliseconds, the unit of the legacy environment variables.
func parseDuration(raw any) (time.Duration, error) {
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return value, nil
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return 0, nil
		}
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(value)
	default:
		ms, err := cast.ToInt64E(value)
		if err != nil {
			return 0, fmt.Errorf("not a duration: %v", raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}
