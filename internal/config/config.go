// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for the stand database
// and session images.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".rts-coordinator")
}

// Config holds all configuration for the stand coordinator.
type Config struct {
	// Motion controller
	RTSHost             string        `mapstructure:"rts_host"`
	RTSPort             int           `mapstructure:"rts_port"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	ReconnectMaxRetries int           `mapstructure:"reconnect_max_retries"`
	ReconnectBaseDelay  time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `mapstructure:"reconnect_max_delay"`

	// Motion
	MoveMaxRetries int           `mapstructure:"move_max_retries"`
	IdleSettle     time.Duration `mapstructure:"idle_settle"`
	DUTType        string        `mapstructure:"dut_type"`
	BypassHardware bool          `mapstructure:"bypass_hardware"`
	BadTray        int           `mapstructure:"bad_tray"`
	BadTrayCol     int           `mapstructure:"bad_tray_col"`
	BadTrayRow     int           `mapstructure:"bad_tray_row"`

	// External status feed
	FeedPath     string        `mapstructure:"feed_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Chip plan
	PlanMode  string `mapstructure:"plan_mode"`
	PlanFile  string `mapstructure:"plan_file"`
	PlanTray  int    `mapstructure:"plan_tray"`
	PlanBoard int    `mapstructure:"plan_board"`

	AutoRaiseFaults bool `mapstructure:"auto_raise_faults"`

	// Paths
	StorePath string `mapstructure:"store_path"`
	ImageDir  string `mapstructure:"image_dir"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Operator surfaces
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	HTTPEnabled    bool   `mapstructure:"http_enabled"`
	HTTPAddr       string `mapstructure:"http_addr"`
	MCPEnabled     bool   `mapstructure:"mcp_enabled"`
}

// DefaultConfig returns a Config with the stand defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		RTSHost:             "192.168.0.2",
		RTSPort:             2001,
		ConnectTimeout:      10 * time.Second,
		ResponseTimeout:     60 * time.Second,
		ReconnectMaxRetries: 5,
		ReconnectBaseDelay:  1 * time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		MoveMaxRetries:      2,
		IdleSettle:          5 * time.Second,
		DUTType:             "CD",
		BypassHardware:      false,
		BadTray:             1,
		BadTrayCol:          1,
		BadTrayRow:          1,
		FeedPath:            "",
		PollInterval:        1 * time.Second,
		PlanMode:            "full",
		PlanFile:            "",
		PlanTray:            2,
		PlanBoard:           2,
		AutoRaiseFaults:     true,
		StorePath:           filepath.Join(dataDir, "rts.db"),
		ImageDir:            filepath.Join(dataDir, "images"),
		LogLevel:            "info",
		LogFormat:           "json",
		MetricsEnabled:      true,
		HTTPEnabled:         true,
		HTTPAddr:            ":8080",
		MCPEnabled:          true,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("rts_host", defaults.RTSHost)
	v.SetDefault("rts_port", defaults.RTSPort)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("response_timeout", defaults.ResponseTimeout)
	v.SetDefault("reconnect_max_retries", defaults.ReconnectMaxRetries)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("move_max_retries", defaults.MoveMaxRetries)
	v.SetDefault("idle_settle", defaults.IdleSettle)
	v.SetDefault("dut_type", defaults.DUTType)
	v.SetDefault("bypass_hardware", defaults.BypassHardware)
	v.SetDefault("bad_tray", defaults.BadTray)
	v.SetDefault("bad_tray_col", defaults.BadTrayCol)
	v.SetDefault("bad_tray_row", defaults.BadTrayRow)
	v.SetDefault("feed_path", defaults.FeedPath)
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("plan_mode", defaults.PlanMode)
	v.SetDefault("plan_file", defaults.PlanFile)
	v.SetDefault("plan_tray", defaults.PlanTray)
	v.SetDefault("plan_board", defaults.PlanBoard)
	v.SetDefault("auto_raise_faults", defaults.AutoRaiseFaults)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("image_dir", defaults.ImageDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("metrics_enabled", defaults.MetricsEnabled)
	v.SetDefault("http_enabled", defaults.HTTPEnabled)
	v.SetDefault("http_addr", defaults.HTTPAddr)
	v.SetDefault("mcp_enabled", defaults.MCPEnabled)

	// Environment variables with RTS_ prefix
	v.SetEnvPrefix("RTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file falls back to defaults.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Address returns the motion controller host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.RTSHost, strconv.Itoa(c.RTSPort))
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.RTSHost == "" {
		return fmt.Errorf("rts host must be set")
	}
	if c.RTSPort <= 0 || c.RTSPort > 65535 {
		return fmt.Errorf("invalid rts port: %d (must be 1-65535)", c.RTSPort)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive")
	}

	if c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect max retries must be non-negative")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}

	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	if c.MoveMaxRetries < 0 {
		return fmt.Errorf("move max retries must be non-negative")
	}

	switch c.DUTType {
	case "FE", "ADC", "CD":
	default:
		return fmt.Errorf("invalid dut type: %s (must be FE, ADC, or CD)", c.DUTType)
	}

	if c.BadTray < 1 || c.BadTray > 2 || c.BadTrayCol < 1 || c.BadTrayCol > 10 || c.BadTrayRow < 1 || c.BadTrayRow > 4 {
		return fmt.Errorf("invalid bad tray slot %d/%d/%d (tray 1-2, column 1-10, row 1-4)", c.BadTray, c.BadTrayCol, c.BadTrayRow)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	switch c.PlanMode {
	case "full", "interactive":
	case "file":
		if c.PlanFile == "" {
			return fmt.Errorf("plan mode file requires plan_file")
		}
	default:
		return fmt.Errorf("invalid plan mode: %s (must be full, file, or interactive)", c.PlanMode)
	}

	if c.HTTPEnabled && c.HTTPAddr == "" {
		return fmt.Errorf("http addr must be set when http is enabled")
	}

	return nil
}
