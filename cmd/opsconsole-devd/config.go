package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jumboxerox/opsconsole/internal/logging"
	"github.com/spf13/viper"
)

const (
	defaultBindHost     = "127.0.0.1"
	defaultAPIPort      = 3000
	defaultGRPCPort     = 3001
	defaultQueryTimeout = 30 * time.Second
	defaultDemoOrders   = 25
)

// devdConfig is the dev backend's runtime configuration.
type devdConfig struct {
	APIPort      int           `mapstructure:"api-port"`
	APIAddr      string        `mapstructure:"api-addr"`
	GRPCPort     int           `mapstructure:"grpc-port"`
	GRPCAddr     string        `mapstructure:"grpc-addr"`
	DBPath       string        `mapstructure:"db-path"`
	StorageDir   string        `mapstructure:"storage-dir"`
	SeedFile     string        `mapstructure:"seed-file"`
	DemoOrders   int           `mapstructure:"demo-orders"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
	LogLevel     string        `mapstructure:"log-level"`
	ConfigPath   string        `mapstructure:"-"`
}

func loadDevdConfig(configPath string) (devdConfig, error) {
	var cfg devdConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "opsconsole-devd")

	v := viper.New()
	v.SetEnvPrefix("OPSCONSOLE_DEVD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("grpc-port", defaultGRPCPort)
	v.SetDefault("db-path", filepath.Join(dataDir, "orders.duckdb"))
	v.SetDefault("storage-dir", filepath.Join(dataDir, "storage"))
	v.SetDefault("seed-file", "")
	v.SetDefault("demo-orders", defaultDemoOrders)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("log-level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "opsconsole", "devd.yml"))
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
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.GRPCPort <= 0 || cfg.GRPCPort > 65535 {
		return cfg, fmt.Errorf("invalid grpc-port: %d", cfg.GRPCPort)
	}
	if cfg.GRPCPort == cfg.APIPort {
		return cfg, fmt.Errorf("grpc-port and api-port must differ, both are %d", cfg.APIPort)
	}
	if cfg.DemoOrders < 0 {
		return cfg, fmt.Errorf("demo-orders must not be negative, got %d", cfg.DemoOrders)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}

	// ":memory:" keeps everything in process.
	if cfg.DBPath == ":memory:" {
		cfg.DBPath = ""
	}
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.StorageDir = expandHome(home, cfg.StorageDir)
	cfg.SeedFile = expandHome(home, cfg.SeedFile)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.GRPCPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
