// Package config handles loading and validating the threatlens.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/risk"
)

// DefaultPath is read when no config path is given. Its absence is not an error.
const DefaultPath = "threatlens.toml"

// Config is the top-level configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Detectors detector.Config `toml:"detectors"`
	Risk      RiskConfig      `toml:"risk"`
	Logging   LoggingConfig   `toml:"logging"`
	Output    OutputConfig    `toml:"output"`
	Server    ServerConfig    `toml:"server"`
}

// LLMConfig configures the inference provider and retry policy.
type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     int     `toml:"timeout"` // per-attempt timeout in seconds
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	// RequestsPerSecond paces calls to the provider; 0 disables pacing.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	JSONMode          bool    `toml:"json_mode"`
}

// TimeoutDuration returns the per-attempt timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// BaseDelay returns the first retry delay.
func (c LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// RiskConfig holds the aggregation weights and level thresholds.
type RiskConfig struct {
	Weights    risk.Weights    `toml:"weights"`
	Thresholds risk.Thresholds `toml:"thresholds"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
	// File enables a rotating log file in addition to stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// OutputConfig configures where reports are written.
type OutputConfig struct {
	Dir     string `toml:"dir"`
	Archive bool   `toml:"archive"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `toml:"port"`
}

// Warning is a non-fatal configuration problem. The caller logs it.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "mistral",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     60,
			MaxAttempts: 3,
			BaseDelayMS: 1000,
		},
		Detectors: detector.DefaultConfig(),
		Risk: RiskConfig{
			Weights:    risk.DefaultWeights(),
			Thresholds: risk.DefaultThresholds(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Output: OutputConfig{Dir: "output"},
		Server: ServerConfig{Port: 8000},
	}
}

// Load reads the config file at path over the defaults, then applies .env and
// environment overrides. An empty path means DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp threatlens.example.toml threatlens.toml", path)
		default:
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// A missing .env is normal; a malformed one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LLM.Endpoint = envOrDefault("OLLAMA_HOST", c.LLM.Endpoint)
	c.LLM.Model = envOrDefault("OLLAMA_MODEL", c.LLM.Model)
	c.LLM.Provider = envOrDefault("THREATLENS_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = envOrDefault("THREATLENS_API_KEY", c.LLM.APIKey)
	c.Logging.Level = envOrDefault("LOG_LEVEL", c.Logging.Level)

	var err error
	if c.LLM.Temperature, err = envOrDefaultFloat("MODEL_TEMPERATURE", c.LLM.Temperature); err != nil {
		return err
	}
	if c.LLM.MaxTokens, err = envOrDefaultInt("MODEL_MAX_TOKENS", c.LLM.MaxTokens); err != nil {
		return err
	}

	w := &c.Risk.Weights
	if w.Login, err = envOrDefaultFloat("WEIGHT_LOGIN_ANOMALIES", w.Login); err != nil {
		return err
	}
	if w.Firewall, err = envOrDefaultFloat("WEIGHT_FIREWALL_THREATS", w.Firewall); err != nil {
		return err
	}
	if w.Patch, err = envOrDefaultFloat("WEIGHT_PATCH_VULNERABILITIES", w.Patch); err != nil {
		return err
	}

	th := &c.Risk.Thresholds
	if th.Critical, err = envOrDefaultInt("RISK_THRESHOLD_CRITICAL", th.Critical); err != nil {
		return err
	}
	if th.High, err = envOrDefaultInt("RISK_THRESHOLD_HIGH", th.High); err != nil {
		return err
	}
	if th.Medium, err = envOrDefaultInt("RISK_THRESHOLD_MEDIUM", th.Medium); err != nil {
		return err
	}
	return nil
}

// Validate returns hard errors for unusable values and warnings for values
// that still work but are probably wrong.
func (c *Config) Validate() ([]Warning, error) {
	switch c.LLM.Provider {
	case "ollama", "openai":
	case "":
		return nil, fmt.Errorf("llm.provider is required (ollama, openai)")
	default:
		return nil, fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return nil, fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxAttempts < 1 {
		return nil, fmt.Errorf("llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.Timeout < 0 || c.LLM.BaseDelayMS < 0 || c.LLM.MaxTokens < 0 || c.LLM.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("llm timeout, base_delay_ms, max_tokens and requests_per_second must not be negative")
	}

	login := c.Detectors.Login
	if login.OffHoursStart < 0 || login.OffHoursStart > 24 || login.OffHoursEnd < 0 || login.OffHoursEnd > 24 {
		return nil, fmt.Errorf("detectors.login off-hours must lie within 0..24 (got %d..%d)", login.OffHoursStart, login.OffHoursEnd)
	}
	if login.BruteForceThreshold < 1 || login.BruteForceWindow < 1 {
		return nil, fmt.Errorf("detectors.login brute-force threshold and window must be positive")
	}
	if c.Detectors.Firewall.PortScanThreshold < 1 || c.Detectors.Firewall.RepeatedBlockThreshold < 1 {
		return nil, fmt.Errorf("detectors.firewall thresholds must be positive")
	}
	if err := c.Risk.Thresholds.Validate(); err != nil {
		return nil, err
	}

	var warnings []Warning
	if drift := c.Risk.Weights.Drift(); drift != "" {
		warnings = append(warnings, Warning{Field: "risk.weights", Message: drift})
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		warnings = append(warnings, Warning{Field: "llm.api_key", Message: "empty for provider openai; requests are sent without authorization"})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		warnings = append(warnings, Warning{Field: "llm.temperature", Message: fmt.Sprintf("%.2f is outside the usual 0..2 range", c.LLM.Temperature)})
	}
	return warnings, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultFloat(key string, fallback float64) (float64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
		}
		return f, nil
	}
	return fallback, nil
}
