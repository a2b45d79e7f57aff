// Package config loads formflow's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"formflow/matcher"
	"formflow/observability"
	"formflow/scriptgen"
	"formflow/transformer"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Logging     observability.LoggingConfig `yaml:"logging"`
	Matcher     MatcherConfig               `yaml:"matcher"`
	Transformer TransformerConfig           `yaml:"transformer"`
	Script      ScriptConfig                `yaml:"script"`
	Redis       RedisConfig                 `yaml:"redis"`
	NATS        NATSConfig                  `yaml:"nats"`
	Browser     BrowserConfig               `yaml:"browser"`
	Retention   RetentionConfig             `yaml:"retention"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`
	// QueueSize bounds pending jobs; submissions beyond it are rejected.
	QueueSize int `yaml:"queue_size"`
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MatcherConfig mirrors matcher.Config in YAML units.
type MatcherConfig struct {
	// FuzzyThreshold is a pointer so an explicit 0 survives defaulting.
	FuzzyThreshold *float64 `yaml:"fuzzy_threshold"`
	// CacheTTL is in seconds.
	CacheTTL      float64       `yaml:"cache_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	ButtonTimeout time.Duration `yaml:"button_timeout"`
	ClickDelay    time.Duration `yaml:"click_delay"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ToMatcher converts to the matcher's own config.
func (c MatcherConfig) ToMatcher() matcher.Config {
	cfg := matcher.DefaultConfig()
	if c.FuzzyThreshold != nil {
		cfg.FuzzyThreshold = *c.FuzzyThreshold
	}
	cfg.CacheTTL = time.Duration(c.CacheTTL * float64(time.Second))
	cfg.CacheSize = c.CacheSize
	if c.ButtonTimeout > 0 {
		cfg.ButtonTimeout = c.ButtonTimeout
	}
	if c.ClickDelay > 0 {
		cfg.ClickDelay = c.ClickDelay
	}
	if c.RetryDelay > 0 {
		cfg.RetryDelay = c.RetryDelay
	}
	return cfg
}

// TransformerConfig tunes generation.
type TransformerConfig struct {
	OptionalKeywords []string `yaml:"optional_keywords"`
	// PopupDelays is the popup retry schedule in seconds.
	PopupDelays []int `yaml:"popup_delays"`
	// PopupAttempts defaults to len(PopupDelays).
	PopupAttempts int `yaml:"popup_attempts"`
}

// ToOptions converts to transformer options.
func (c TransformerConfig) ToOptions() transformer.Options {
	opts := transformer.DefaultOptions()
	if len(c.OptionalKeywords) > 0 {
		opts.OptionalKeywords = append([]string(nil), c.OptionalKeywords...)
	}
	if len(c.PopupDelays) > 0 {
		delays := make([]time.Duration, len(c.PopupDelays))
		for i, d := range c.PopupDelays {
			delays[i] = time.Duration(d) * time.Second
		}
		opts.Popup.Delays = delays
		opts.Popup.MaxAttempts = len(delays)
	}
	if c.PopupAttempts > 0 {
		opts.Popup.MaxAttempts = c.PopupAttempts
	}
	return opts
}

// ScriptConfig sets defaults of assembled scripts.
type ScriptConfig struct {
	Headless          bool          `yaml:"headless"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	UserAgent         string        `yaml:"user_agent"`
	ProfilesDir       string        `yaml:"profiles_dir"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	IterationPause    time.Duration `yaml:"iteration_pause"`
}

// ToScript converts to scriptgen settings. Rows and title are per request.
func (c ScriptConfig) ToScript() scriptgen.Config {
	cfg := scriptgen.DefaultConfig()
	cfg.Headless = c.Headless
	if c.ViewportWidth > 0 {
		cfg.ViewportWidth = c.ViewportWidth
	}
	if c.ViewportHeight > 0 {
		cfg.ViewportHeight = c.ViewportHeight
	}
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	if c.ProfilesDir != "" {
		cfg.ProfilesDir = c.ProfilesDir
	}
	if c.DefaultTimeout > 0 {
		cfg.DefaultTimeout = c.DefaultTimeout
	}
	if c.NavigationTimeout > 0 {
		cfg.NavigationTimeout = c.NavigationTimeout
	}
	if c.IterationPause > 0 {
		cfg.IterationPause = c.IterationPause
	}
	return cfg
}

// RedisConfig selects the Redis job store. An empty Addr keeps jobs in memory.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	JobTTL   time.Duration `yaml:"job_ttl"`
}

// NATSConfig selects the event bus. An empty URL disables events.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
	DriverSnapshot   = "snapshot"
)

// BrowserConfig configures live drivers for `formflow answer`.
type BrowserConfig struct {
	Driver         string        `yaml:"driver"`
	Headless       bool          `yaml:"headless"`
	ExecutablePath string        `yaml:"executable_path"`
	ControlURL     string        `yaml:"control_url"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// RetentionConfig drives the finished-job sweep.
type RetentionConfig struct {
	// Schedule is a cron spec, e.g. "@every 5m".
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Default returns a complete configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (config.yaml when empty and present), substitutes
// ${VAR:-default} references, applies defaults and environment overrides,
// and validates. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("FORMFLOW_CONFIG")
	}
	if path == "" && fileExists("config.yaml") {
		path = "config.yaml"
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Parse substitutes environment references in data and decodes it.
func Parse(data []byte, cfg *Config) error {
	substituted := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// envVarWithDefaultPattern matches ${VAR_NAME:-default} patterns.
var envVarWithDefaultPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default}. Comment
// lines are left alone; unset variables without a default become empty.
func substituteEnvVars(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = envVarWithDefaultPattern.ReplaceAllStringFunc(line, func(match string) string {
			parts := envVarWithDefaultPattern.FindStringSubmatch(match)
			if value := os.Getenv(parts[1]); value != "" {
				return value
			}
			return parts[2]
		})
	}
	return strings.Join(lines, "\n")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 4
	}
	if cfg.Server.QueueSize == 0 {
		cfg.Server.QueueSize = 100
	}

	cfg.Logging.ApplyDefaults()

	if cfg.Matcher.FuzzyThreshold == nil {
		threshold := matcher.DefaultConfig().FuzzyThreshold
		cfg.Matcher.FuzzyThreshold = &threshold
	}
	if cfg.Matcher.CacheTTL == 0 {
		cfg.Matcher.CacheTTL = 5
	}
	if cfg.Matcher.CacheSize == 0 {
		cfg.Matcher.CacheSize = 512
	}

	if cfg.Script.ViewportWidth == 0 {
		cfg.Script.ViewportWidth = 1920
	}
	if cfg.Script.ViewportHeight == 0 {
		cfg.Script.ViewportHeight = 1080
	}
	if cfg.Script.DefaultTimeout == 0 {
		cfg.Script.DefaultTimeout = 30 * time.Second
	}
	if cfg.Script.NavigationTimeout == 0 {
		cfg.Script.NavigationTimeout = 60 * time.Second
	}
	if cfg.Script.IterationPause == 0 {
		cfg.Script.IterationPause = 3 * time.Second
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "formflow"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "formflow.events"
	}

	if cfg.Browser.Driver == "" {
		cfg.Browser.Driver = DriverPlaywright
	}
	if cfg.Browser.DefaultTimeout == 0 {
		cfg.Browser.DefaultTimeout = 30 * time.Second
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@every 5m"
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = 30 * time.Minute
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FORMFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FORMFLOW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FORMFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = observability.LogLevel(strings.ToLower(v))
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, errors.New("server.workers must be positive"))
	}
	if c.Server.QueueSize < 1 {
		errs = append(errs, errors.New("server.queue_size must be positive"))
	}
	if !observability.IsValidLogLevel(string(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if !observability.IsValidLogFormat(string(c.Logging.Format)) {
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	if t := c.Matcher.FuzzyThreshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("matcher.fuzzy_threshold %.2f must be within [0, 1]", *t))
	}
	if c.Matcher.CacheTTL <= 0 {
		errs = append(errs, errors.New("matcher.cache_ttl must be positive"))
	}
	for _, d := range c.Transformer.PopupDelays {
		if d < 0 {
			errs = append(errs, errors.New("transformer.popup_delays must not be negative"))
			break
		}
	}
	switch c.Browser.Driver {
	case DriverPlaywright, DriverRod, DriverSnapshot:
	default:
		errs = append(errs, fmt.Errorf("browser.driver %q is not one of playwright, rod, snapshot", c.Browser.Driver))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive"))
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
