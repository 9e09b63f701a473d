package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. MAILSYNC_IMAP_HOST.
const envPrefix = "MAILSYNC"

// PollConfig controls the background new-mail poller.
type PollConfig struct {
	// IntervalSec is how often (in seconds) INBOX is re-listed.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// FetchTimeoutSec bounds a single poll tick.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`

	// Window is how many of the newest INBOX messages are diffed per tick.
	Window int `mapstructure:"window" yaml:"window"`
}

// Interval returns the poll interval as a duration.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// FetchTimeout returns the per-tick timeout as a duration.
func (c PollConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// BridgeConfig holds settings for the local HTTP bridge used by the UI.
type BridgeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`

	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`

	// AllowedOrigins lists the browser origins that may call the bridge.
	// Requests without an Origin header are always accepted.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (c BridgeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// LoginConfig controls the startup auto-login flow.
type LoginConfig struct {
	Auto        bool `mapstructure:"auto" yaml:"auto"`
	MaxAttempts int  `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffSec  int  `mapstructure:"backoff_sec" yaml:"backoff_sec"`
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`

	// ProtocolTrace logs raw IMAP traffic at trace level. LOGIN lines are
	// always redacted.
	ProtocolTrace bool `mapstructure:"protocol_trace" yaml:"protocol_trace"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP   ImapConfig   `mapstructure:"imap" yaml:"imap"`
	SMTP   SmtpConfig   `mapstructure:"smtp" yaml:"smtp"`
	Poll   PollConfig   `mapstructure:"poll" yaml:"poll"`
	Login  LoginConfig  `mapstructure:"login" yaml:"login"`
	Bridge BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// HasIMAP reports whether enough IMAP settings exist to attempt a login
// once a password is supplied.
func (c *AppConfig) HasIMAP() bool {
	return c.IMAP.Host != "" && c.IMAP.Auth.User != ""
}

// HasSMTP reports whether SMTP has been configured.
func (c *AppConfig) HasSMTP() bool {
	return c.SMTP.Host != "" && c.SMTP.Auth.User != ""
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultStorePath returns the default SQLite database location.
func DefaultStorePath() string {
	return filepath.Join(configDir(), "mailsync.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsync")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		IMAP: ImapConfig{Port: 993, Secure: true},
		SMTP: SmtpConfig{Port: 587, StartTLS: true},
		Poll: PollConfig{
			IntervalSec:     300,
			FetchTimeoutSec: 30,
			Window:          100,
		},
		Login: LoginConfig{
			Auto:        true,
			MaxAttempts: 3,
			BackoffSec:  2,
		},
		Bridge: BridgeConfig{
			Addr:              "127.0.0.1:7337",
			RequestTimeoutSec: 60,
		},
		Store: StoreConfig{Path: DefaultStorePath()},
		Log:   LogConfig{Level: "info"},
	}
}

// setDefaults mirrors defaultAppConfig so that environment overrides of
// individual keys are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", d.IMAP.Port)
	v.SetDefault("imap.secure", d.IMAP.Secure)
	v.SetDefault("imap.starttls", false)
	v.SetDefault("imap.auth.user", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.secure", false)
	v.SetDefault("smtp.starttls", d.SMTP.StartTLS)
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.auth.user", "")
	v.SetDefault("poll.interval_sec", d.Poll.IntervalSec)
	v.SetDefault("poll.fetch_timeout_sec", d.Poll.FetchTimeoutSec)
	v.SetDefault("poll.window", d.Poll.Window)
	v.SetDefault("login.auto", d.Login.Auto)
	v.SetDefault("login.max_attempts", d.Login.MaxAttempts)
	v.SetDefault("login.backoff_sec", d.Login.BackoffSec)
	v.SetDefault("bridge.addr", d.Bridge.Addr)
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.request_timeout_sec", d.Bridge.RequestTimeoutSec)
	v.SetDefault("bridge.allowed_origins", []string{})
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.protocol_trace", false)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with MAILSYNC_ override file values. If the
// file does not exist, defaults plus environment overrides are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Passwords never live in the config file.
	cfg.IMAP.Auth.Pass = os.Getenv(envPrefix + "_IMAP_PASS")
	cfg.SMTP.Auth.Pass = os.Getenv(envPrefix + "_SMTP_PASS")

	if cfg.Poll.IntervalSec <= 0 {
		cfg.Poll.IntervalSec = 300
	}
	if cfg.Poll.FetchTimeoutSec <= 0 {
		cfg.Poll.FetchTimeoutSec = 30
	}
	if cfg.Poll.Window <= 0 {
		cfg.Poll.Window = 100
	}
	if cfg.Login.MaxAttempts <= 0 {
		cfg.Login.MaxAttempts = 1
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Passwords are never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", map[string]any{
		"host":     cfg.IMAP.Host,
		"port":     cfg.IMAP.Port,
		"secure":   cfg.IMAP.Secure,
		"starttls": cfg.IMAP.StartTLS,
		"auth":     map[string]any{"user": cfg.IMAP.Auth.User},
	})
	v.Set("smtp", map[string]any{
		"host":     cfg.SMTP.Host,
		"port":     cfg.SMTP.Port,
		"secure":   cfg.SMTP.Secure,
		"starttls": cfg.SMTP.StartTLS,
		"from":     cfg.SMTP.From,
		"auth":     map[string]any{"user": cfg.SMTP.Auth.User},
	})
	v.Set("poll", cfg.Poll)
	v.Set("login", cfg.Login)
	v.Set("bridge", cfg.Bridge)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
