package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "URLTIME"

// Config holds the process-level settings. The visiting parameters themselves
// live in the JSON file referenced by App.ConfigFile.
type Config struct {
	HTTP HTTPConfig `mapstructure:"http"`
	WS   WSConfig   `mapstructure:"ws"`
	App  AppConfig  `mapstructure:"app"`
	Log  LogConfig  `mapstructure:"log"`
}

// HTTPConfig controls the control-surface listener.
type HTTPConfig struct {
	Host  string `mapstructure:"host"`
	Ports []int  `mapstructure:"ports"`
}

// WSConfig controls the dedicated push-channel listener.
type WSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Ports   []int  `mapstructure:"ports"`
}

// AppConfig points at the collaborator files.
type AppConfig struct {
	ConfigFile   string `mapstructure:"config_file"`
	WebRoot      string `mapstructure:"web_root"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// LogConfig configures the zap logger and optional rotated log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SetDefaults registers the built-in values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "")
	v.SetDefault("http.ports", []int{8000, 8001, 8002, 8003, 8004})

	v.SetDefault("ws.enabled", true)
	v.SetDefault("ws.host", "127.0.0.1")
	v.SetDefault("ws.ports", []int{8005, 8006, 8007, 8008, 8009})

	v.SetDefault("app.config_file", "config.json")
	v.SetDefault("app.web_root", ".")
	v.SetDefault("app.history_limit", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", true)
}

// Load reads the optional YAML file at path (or ./urltime.yaml when path is
// empty), applies URLTIME_* environment overrides and validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("urltime")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if len(c.HTTP.Ports) == 0 {
		return errors.New("http.ports must list at least one port")
	}
	if c.WS.Enabled && len(c.WS.Ports) == 0 {
		return errors.New("ws.ports must list at least one port when ws.enabled is set")
	}
	for _, port := range append(append([]int{}, c.HTTP.Ports...), c.WS.Ports...) {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
	}
	if strings.TrimSpace(c.App.ConfigFile) == "" {
		return errors.New("app.config_file must not be empty")
	}
	if c.App.HistoryLimit <= 0 {
		return fmt.Errorf("app.history_limit must be positive, got %d", c.App.HistoryLimit)
	}
	return nil
}
