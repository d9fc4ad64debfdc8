// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Copy      CopyConfig      `yaml:"copy"`
	Venue     VenueConfig     `yaml:"venue"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Alerts    AlertConfig     `yaml:"alerts"`
}

// AlertConfig configures the outbound notification channels. Empty values
// disable the corresponding channel.
type AlertConfig struct {
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
}

// Enabled reports whether any alert channel is configured.
func (a AlertConfig) Enabled() bool {
	return (a.TelegramBotToken.Reveal() != "" && a.TelegramChatID != "") ||
		a.SlackWebhookURL.Reveal() != ""
}

// AppConfig contains application-level settings
type AppConfig struct {
	TargetAddress  string `yaml:"target_address"`  // account being copied
	OwnAddress     string `yaml:"own_address"`     // account holding margin and positions
	FundingAddress string `yaml:"funding_address"` // optional: distinct margin account for own reads
}

// CopyConfig contains the sizing and execution parameters
type CopyConfig struct {
	Mode                string  `yaml:"mode" validate:"oneof=exact proportional"`
	Ratio               float64 `yaml:"ratio"`
	AutoRatio           bool    `yaml:"auto_ratio"`
	SafetyFactor        float64 `yaml:"safety_factor"`
	MaxPositionPct      float64 `yaml:"max_position_pct"`
	MinOrderNotional    float64 `yaml:"min_order_notional"`
	SlippagePct         float64 `yaml:"slippage_pct"`
	MirrorLeverage      bool    `yaml:"mirror_leverage"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds" validate:"min=1,max=3600"`
	OrderDelayMs        int     `yaml:"order_delay_ms" validate:"min=0,max=60000"`
	SettleDelayMs       int     `yaml:"settle_delay_ms" validate:"min=0,max=60000"`
}

// PollInterval returns the reconciliation tick period.
func (c CopyConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// OrderDelay returns the pacing delay between order submissions.
func (c CopyConfig) OrderDelay() time.Duration {
	return time.Duration(c.OrderDelayMs) * time.Millisecond
}

// SettleDelay returns the close-to-reopen delay for side flips.
func (c CopyConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// VenueConfig contains venue connectivity settings
type VenueConfig struct {
	BaseURL               string `yaml:"base_url"`
	WSURL                 string `yaml:"ws_url"`
	EnableWSQuotes        bool   `yaml:"enable_ws_quotes"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"min=1,max=120"`
	RateLimitPerSec       int    `yaml:"rate_limit_per_sec" validate:"min=1,max=100"`
	PrivateKey            Secret `yaml:"private_key"` // order signing credential, optional for read-only runs
}

// RequestTimeout returns the per-request deadline for venue calls.
func (c VenueConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LedgerConfig bounds the in-memory history windows
type LedgerConfig struct {
	ChangeWindow int `yaml:"change_window" validate:"min=1,max=1000"`
	CopyWindow   int `yaml:"copy_window" validate:"min=1,max=1000"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Copy.Mode == "" {
		c.Copy.Mode = "proportional"
	}
	if c.Copy.SafetyFactor == 0 {
		c.Copy.SafetyFactor = 0.8
	}
	if c.Copy.MaxPositionPct == 0 {
		c.Copy.MaxPositionPct = 30.0
	}
	if c.Copy.SlippagePct == 0 {
		c.Copy.SlippagePct = 2.0
	}
	if c.Copy.PollIntervalSeconds == 0 {
		c.Copy.PollIntervalSeconds = 10
	}
	if c.Venue.RequestTimeoutSeconds == 0 {
		c.Venue.RequestTimeoutSeconds = 10
	}
	if c.Venue.RateLimitPerSec == 0 {
		c.Venue.RateLimitPerSec = 10
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Ledger.ChangeWindow == 0 {
		c.Ledger.ChangeWindow = 25
	}
	if c.Ledger.CopyWindow == 0 {
		c.Ledger.CopyWindow = 20
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateCopyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateLedgerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.TargetAddress == "" {
		return ValidationError{
			Field:   "app.target_address",
			Message: "target address is required",
		}
	}
	if c.App.OwnAddress == "" {
		return ValidationError{
			Field:   "app.own_address",
			Message: "own address is required",
		}
	}
	if strings.EqualFold(c.App.TargetAddress, c.App.OwnAddress) {
		return ValidationError{
			Field:   "app.target_address",
			Value:   c.App.TargetAddress,
			Message: "target and own address must differ",
		}
	}
	return nil
}

func (c *Config) validateCopyConfig() error {
	validModes := []string{"exact", "proportional"}
	if !contains(validModes, c.Copy.Mode) {
		return ValidationError{
			Field:   "copy.mode",
			Value:   c.Copy.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}

	if c.Copy.Mode == "proportional" && !c.Copy.AutoRatio && c.Copy.Ratio <= 0 {
		return ValidationError{
			Field:   "copy.ratio",
			Value:   c.Copy.Ratio,
			Message: "ratio must be positive when auto_ratio is disabled",
		}
	}

	if c.Copy.SafetyFactor <= 0 || c.Copy.SafetyFactor > 1 {
		return ValidationError{
			Field:   "copy.safety_factor",
			Value:   c.Copy.SafetyFactor,
			Message: "must be in (0, 1]",
		}
	}

	if c.Copy.MaxPositionPct <= 0 || c.Copy.MaxPositionPct > 100 {
		return ValidationError{
			Field:   "copy.max_position_pct",
			Value:   c.Copy.MaxPositionPct,
			Message: "must be in (0, 100]",
		}
	}

	if c.Copy.MinOrderNotional < 0 {
		return ValidationError{
			Field:   "copy.min_order_notional",
			Value:   c.Copy.MinOrderNotional,
			Message: "must not be negative",
		}
	}

	if c.Copy.SlippagePct <= 0 || c.Copy.SlippagePct >= 100 {
		return ValidationError{
			Field:   "copy.slippage_pct",
			Value:   c.Copy.SlippagePct,
			Message: "must be in (0, 100)",
		}
	}

	if c.Copy.PollIntervalSeconds < 1 {
		return ValidationError{
			Field:   "copy.poll_interval_seconds",
			Value:   c.Copy.PollIntervalSeconds,
			Message: "must be at least 1",
		}
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	if c.Venue.BaseURL == "" {
		return ValidationError{
			Field:   "venue.base_url",
			Message: "venue base URL is required",
		}
	}
	if c.Venue.EnableWSQuotes && c.Venue.WSURL == "" {
		return ValidationError{
			Field:   "venue.ws_url",
			Message: "ws_url is required when enable_ws_quotes is set",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateLedgerConfig() error {
	if c.Ledger.ChangeWindow < 1 {
		return ValidationError{
			Field:   "ledger.change_window",
			Value:   c.Ledger.ChangeWindow,
			Message: "must be at least 1",
		}
	}
	if c.Ledger.CopyWindow < 1 {
		return ValidationError{
			Field:   "ledger.copy_window",
			Value:   c.Ledger.CopyWindow,
			Message: "must be at least 1",
		}
	}
	return nil
}

// OwnReadAddress returns the address used for own-account snapshot reads.
// Falls back to the trading address when no funding account is configured.
func (a AppConfig) OwnReadAddress() string {
	if a.FundingAddress != "" {
		return a.FundingAddress
	}
	return a.OwnAddress
}

// OwnReadAddress delegates to the app section.
func (c *Config) OwnReadAddress() string {
	return c.App.OwnReadAddress()
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.App.TargetAddress = maskString(configCopy.App.TargetAddress)
	configCopy.App.OwnAddress = maskString(configCopy.App.OwnAddress)
	configCopy.App.FundingAddress = maskString(configCopy.App.FundingAddress)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			TargetAddress: "0x1111111111111111111111111111111111111111",
			OwnAddress:    "0x2222222222222222222222222222222222222222",
		},
		Copy: CopyConfig{
			Mode:                "proportional",
			Ratio:               0.5,
			AutoRatio:           false,
			SafetyFactor:        0.8,
			MaxPositionPct:      30.0,
			MinOrderNotional:    10.0,
			SlippagePct:         2.0,
			MirrorLeverage:      true,
			PollIntervalSeconds: 10,
			OrderDelayMs:        1000,
			SettleDelayMs:       1000,
		},
		Venue: VenueConfig{
			BaseURL:               "https://api.hyperliquid.xyz",
			WSURL:                 "wss://api.hyperliquid.xyz/ws",
			EnableWSQuotes:        false,
			RequestTimeoutSeconds: 10,
			RateLimitPerSec:       10,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
		Ledger: LedgerConfig{
			ChangeWindow: 25,
			CopyWindow:   20,
		},
	}
}
