package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jumboxerox/opsconsole/internal/logging"
	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/spf13/viper"
)

const defaultAPIURL = "http://localhost:3000/api"

// consoleConfig holds the console's configuration.
type consoleConfig struct {
	APIURL         string        `mapstructure:"api-url"`
	GracePeriod    time.Duration `mapstructure:"grace-period"`
	TickInterval   time.Duration `mapstructure:"tick-interval"`
	DebounceQuiet  time.Duration `mapstructure:"debounce-quiet"`
	PageSize       int           `mapstructure:"page-size"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	StaleAfter     time.Duration `mapstructure:"stale-after"`
	LogLevel       string        `mapstructure:"log-level"`
	LogPath        string        `mapstructure:"log-path"`
}

func loadConsoleConfig(configPath string) (consoleConfig, error) {
	var cfg consoleConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("OPSCONSOLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("api-url", defaultAPIURL)
	v.SetDefault("grace-period", model.DefaultGracePeriod)
	v.SetDefault("tick-interval", model.DefaultTickInterval)
	v.SetDefault("debounce-quiet", model.DefaultDebounceQuiet)
	v.SetDefault("page-size", model.DefaultPageSize)
	v.SetDefault("request-timeout", model.DefaultRequestTimeout)
	v.SetDefault("stale-after", model.DefaultStaleAfter)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-path", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "opsconsole", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(home, ".local", "state", "opsconsole", "opsconsole.log")
	}

	return cfg, cfg.validate()
}

func (c consoleConfig) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api-url %q must be an http(s) URL", c.APIURL)
	}
	if c.GracePeriod < time.Second {
		return fmt.Errorf("grace-period must be at least 1s, got %s", c.GracePeriod)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be positive, got %s", c.TickInterval)
	}
	if c.DebounceQuiet <= 0 {
		return fmt.Errorf("debounce-quiet must be positive, got %s", c.DebounceQuiet)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page-size must be between 1 and 100, got %d", c.PageSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %s", c.RequestTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
