// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/herald/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Network() NetworkConfig
	Agent() AgentConfig
	Browser() BrowserConfig
	Resolver() ResolverConfig
	Media() MediaConfig
	State() StateConfig
	Notify() NotifyConfig
	Status() StatusConfig

	SetServerAPIKey(string)
	SetBrowserHeadless(bool)
	SetAgentPollInterval(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ResolverCfg ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	MediaCfg    MediaConfig    `mapstructure:"media" yaml:"media"`
	StateCfg    StateConfig    `mapstructure:"state" yaml:"state"`
	NotifyCfg   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	StatusCfg   StatusConfig   `mapstructure:"status" yaml:"status"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Resolver() ResolverConfig { return c.ResolverCfg }
func (c *Config) Media() MediaConfig       { return c.MediaCfg }
func (c *Config) State() StateConfig       { return c.StateCfg }
func (c *Config) Notify() NotifyConfig     { return c.NotifyCfg }
func (c *Config) Status() StatusConfig     { return c.StatusCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetServerAPIKey(k string)             { c.ServerCfg.APIKey = k }
func (c *Config) SetBrowserHeadless(b bool)            { c.BrowserCfg.Headless = b }
func (c *Config) SetAgentPollInterval(d time.Duration) { c.AgentCfg.PollInterval = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig points the agent at the task server.
type ServerConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// APIKey is the agent credential. Never written back to YAML.
	APIKey    string        `mapstructure:"api_key" yaml:"-"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// NetworkConfig tunes the outbound HTTP transport shared by the API client and media fetcher.
type NetworkConfig struct {
	DialTimeout           time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns          int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	MaxConnsPerHost       int           `mapstructure:"max_conns_per_host" yaml:"max_conns_per_host"`
	ForceHTTP2            bool          `mapstructure:"force_http2" yaml:"force_http2"`
	IgnoreTLSErrors       bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ProxyURL              string        `mapstructure:"proxy_url" yaml:"proxy_url"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	Name         string        `mapstructure:"name" yaml:"name"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxJitter    time.Duration `mapstructure:"max_jitter" yaml:"max_jitter"`
	// ExecutionDeadline bounds one dispatcher run. Zero disables the bound.
	ExecutionDeadline time.Duration `mapstructure:"execution_deadline" yaml:"execution_deadline"`
	Platforms         []string      `mapstructure:"platforms" yaml:"platforms"`
	AutoStart         bool          `mapstructure:"auto_start" yaml:"auto_start"`
}

// BrowserConfig selects how herald reaches the user's browser.
type BrowserConfig struct {
	// RemoteURL attaches to a running Chrome (http://host:port or ws://...). When empty
	// herald launches Chrome itself with UserDataDir as the persistent profile.
	RemoteURL         string          `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath          string          `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string          `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless          bool            `mapstructure:"headless" yaml:"headless"`
	Args              []string        `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration   `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleMin         time.Duration   `mapstructure:"settle_min" yaml:"settle_min"`
	SettleMax         time.Duration   `mapstructure:"settle_max" yaml:"settle_max"`
	Persona           schemas.Persona `mapstructure:"persona" yaml:"persona"`
	Humanoid          HumanoidConfig  `mapstructure:"humanoid" yaml:"humanoid"`
}

// ResolverConfig tunes the element lookup retry loop.
type ResolverConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollMin    time.Duration `mapstructure:"poll_min" yaml:"poll_min"`
	PollMax    time.Duration `mapstructure:"poll_max" yaml:"poll_max"`
	PeekBudget time.Duration `mapstructure:"peek_budget" yaml:"peek_budget"`
}

// MediaConfig bounds media downloads.
type MediaConfig struct {
	MaxFiles      int           `mapstructure:"max_files" yaml:"max_files"`
	MaxBytes      int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TempDir       string        `mapstructure:"temp_dir" yaml:"temp_dir"`
	AllowInsecure bool          `mapstructure:"allow_insecure" yaml:"allow_insecure"`
}

// StateConfig picks the persistence backend for the run state.
type StateConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
	Key         string `mapstructure:"key" yaml:"key"`
}

// NotifyConfig configures the fire-and-forget notification sinks.
type NotifyConfig struct {
	NATS NATSConfig `mapstructure:"nats" yaml:"nats"`
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// StatusConfig configures the local status endpoint.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "herald")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.url", "")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 3)

	// -- Network --
	v.SetDefault("network.dial_timeout", "5s")
	v.SetDefault("network.tls_handshake_timeout", "5s")
	v.SetDefault("network.response_header_timeout", "15s")
	v.SetDefault("network.idle_conn_timeout", "90s")
	v.SetDefault("network.max_idle_conns", 16)
	v.SetDefault("network.max_conns_per_host", 8)
	v.SetDefault("network.force_http2", true)
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Agent --
	v.SetDefault("agent.name", "herald")
	v.SetDefault("agent.poll_interval", "30s")
	v.SetDefault("agent.max_jitter", "5s")
	v.SetDefault("agent.execution_deadline", "0s")
	v.SetDefault("agent.platforms", schemas.PlatformStrings(schemas.AllPlatforms))
	v.SetDefault("agent.auto_start", true)

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.user_data_dir", "~/.herald/chrome-profile")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle_min", "2s")
	v.SetDefault("browser.settle_max", "4s")
	setHumanoidDefaults(v)

	// -- Resolver --
	v.SetDefault("resolver.timeout", "10s")
	v.SetDefault("resolver.poll_min", "200ms")
	v.SetDefault("resolver.poll_max", "300ms")
	v.SetDefault("resolver.peek_budget", "2s")

	// -- Media --
	v.SetDefault("media.max_files", 10)
	v.SetDefault("media.max_bytes", 50*1024*1024)
	v.SetDefault("media.concurrency", 3)
	v.SetDefault("media.timeout", "60s")
	v.SetDefault("media.allow_insecure", false)

	// -- State --
	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.sqlite_path", "~/.herald/state.db")
	v.SetDefault("state.key", "herald.runstate")

	// -- Notify --
	v.SetDefault("notify.nats.enabled", false)
	v.SetDefault("notify.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.nats.subject", "herald.events")

	// -- Status --
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen", "127.0.0.1:8787")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment rather than the config file.
	_ = v.BindEnv("server.api_key", "HERALD_API_KEY")
	_ = v.BindEnv("state.postgres_url", "HERALD_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.BrowserCfg.UserDataDir, &c.StateCfg.SQLitePath, &c.LoggerCfg.LogFile, &c.MediaCfg.TempDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// MinPollInterval is the shortest period the wake-up alarm may use.
const MinPollInterval = 30 * time.Second

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.ResolverCfg.Validate(); err != nil {
		return fmt.Errorf("resolver configuration invalid: %w", err)
	}
	if c.MediaCfg.MaxFiles <= 0 {
		return fmt.Errorf("media.max_files must be a positive integer")
	}
	if c.MediaCfg.Concurrency <= 0 {
		return fmt.Errorf("media.concurrency must be a positive integer")
	}
	if err := c.StateCfg.Validate(); err != nil {
		return fmt.Errorf("state configuration invalid: %w", err)
	}
	if c.NotifyCfg.NATS.Enabled && c.NotifyCfg.NATS.Subject == "" {
		return fmt.Errorf("notify.nats.subject is required when nats is enabled")
	}
	return nil
}

// Validate checks the server section.
func (s *ServerConfig) Validate() error {
	// An empty URL is allowed so offline commands work; the API client rejects it.
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.url must be an absolute URL, got %q", s.URL)
		}
	}
	if s.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	if s.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be a positive integer")
	}
	return nil
}

// Validate checks the agent section.
func (a *AgentConfig) Validate() error {
	if a.PollInterval < MinPollInterval {
		return fmt.Errorf("agent.poll_interval must be at least %s", MinPollInterval)
	}
	if a.MaxJitter < 0 {
		return fmt.Errorf("agent.max_jitter must not be negative")
	}
	if a.ExecutionDeadline < 0 {
		return fmt.Errorf("agent.execution_deadline must not be negative")
	}
	if len(a.Platforms) == 0 {
		return fmt.Errorf("agent.platforms must list at least one platform")
	}
	for _, p := range a.Platforms {
		if _, err := schemas.ParsePlatform(p); err != nil {
			return fmt.Errorf("agent.platforms: %w", err)
		}
	}
	return nil
}

// PlatformIDs returns the configured platforms as typed ids, skipping unknown names.
func (a AgentConfig) PlatformIDs() []schemas.PlatformID {
	out := make([]schemas.PlatformID, 0, len(a.Platforms))
	for _, p := range a.Platforms {
		if id, err := schemas.ParsePlatform(p); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks the browser section.
func (b *BrowserConfig) Validate() error {
	if b.RemoteURL == "" && b.UserDataDir == "" {
		return fmt.Errorf("either browser.remote_url or browser.user_data_dir is required")
	}
	if b.SettleMin < 0 || b.SettleMax < b.SettleMin {
		return fmt.Errorf("browser.settle_min/settle_max must form a non-negative range")
	}
	return b.Humanoid.Validate()
}

// Validate checks the resolver section.
func (r *ResolverConfig) Validate() error {
	if r.Timeout <= 0 {
		return fmt.Errorf("resolver.timeout must be a positive duration")
	}
	if r.PollMin <= 0 || r.PollMax < r.PollMin {
		return fmt.Errorf("resolver.poll_min/poll_max must form a positive range")
	}
	return nil
}

// Validate checks the state section.
func (s *StateConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case "memory":
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("state.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("state.postgres_url is required for the postgres backend. Ensure HERALD_POSTGRES_URL is set")
		}
	default:
		return fmt.Errorf("unknown state.backend %q", s.Backend)
	}
	if s.Key == "" {
		return fmt.Errorf("state.key must not be empty")
	}
	return nil
}
