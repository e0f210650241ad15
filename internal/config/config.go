// Package config provides centralized configuration management using Viper.
// It supports loading configuration from files, environment variables, and
// command-line flags with a clear hierarchy: Flags > Env > Config File > Defaults.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultIdentity         = ""
	DefaultNumCPUWorkers    = 0 // 0 means use runtime.NumCPU()
	DefaultGPUEnabled       = true
	DefaultFakeMode         = false
	DefaultProxyFile        = ""
	DefaultWalletFile       = ""
	DefaultPollInterval     = 6 * time.Second
	DefaultCoinCheckPeriod  = 4000 * time.Millisecond
	DefaultStatsPrintPeriod = 1500 * time.Millisecond
	DefaultStopMinerPeriod  = 64 * time.Second
	DefaultDirectTimeout    = 10 * time.Second
	DefaultProxyTimeout     = 3 * time.Second
	DefaultGPUMaxLoopMS     = 500
	DefaultGPUThrottleOf100 = 0
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "color"
	DefaultLoggingQuiet     = false
	DefaultLoggingVerbose   = false
)

// MinerConfig is the complete runtime configuration for the mining client.
type MinerConfig struct {
	Identity IdentityConfig `mapstructure:"identity"`
	Mining   MiningConfig   `mapstructure:"mining"`
	GPU      GPUSettings    `mapstructure:"gpu"`
	Network  NetworkConfig  `mapstructure:"network"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// IdentityConfig controls how the miner identifies itself to the coin service.
type IdentityConfig struct {
	Value      string `mapstructure:"value"`
	HashAsMD5  bool   `mapstructure:"hash_as_md5"`
}

// MiningConfig controls which worker kinds run and in what mode.
type MiningConfig struct {
	NumCPUWorkers int  `mapstructure:"num_cpu_workers"`
	GPUEnabled    bool `mapstructure:"gpu_enabled"`
	FakeMode      bool `mapstructure:"fake_mode"`
}

// GPUSettings controls the adaptive OpenCL work-group sizing policy.
type GPUSettings struct {
	DeviceIndex    int `mapstructure:"device_index"`
	MaxLoopMS      int `mapstructure:"max_loop_ms"`
	ThrottleOf100  int `mapstructure:"throttle_of_100"`
}

// NetworkConfig controls the proxy pool and coin-service polling cadence.
type NetworkConfig struct {
	ProxyFile        string        `mapstructure:"proxy_file"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CoinCheckPeriod  time.Duration `mapstructure:"coin_check_period"`
	StatsPrintPeriod time.Duration `mapstructure:"stats_print_period"`
	StopMinerPeriod  time.Duration `mapstructure:"stop_miner_period"`
	DirectTimeout    time.Duration `mapstructure:"direct_timeout"`
	ProxyTimeout     time.Duration `mapstructure:"proxy_timeout"`
}

// WalletConfig controls the append-only claimed-coin sink.
type WalletConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig controls the structured logger created from this config.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`   // debug, info, warn, error
	Format  string `mapstructure:"format"`  // text, color, json
	Quiet   bool   `mapstructure:"quiet"`   // suppress all but errors
	Verbose bool   `mapstructure:"verbose"` // enable debug logs
}

// Validate checks the configuration for internally inconsistent values.
func (c *MinerConfig) Validate() error {
	if c.Mining.NumCPUWorkers < 0 {
		return fmt.Errorf("num_cpu_workers cannot be negative, got %d", c.Mining.NumCPUWorkers)
	}

	if c.GPU.MaxLoopMS <= 0 {
		return fmt.Errorf("gpu.max_loop_ms must be positive, got %d", c.GPU.MaxLoopMS)
	}

	if c.GPU.ThrottleOf100 < 0 || c.GPU.ThrottleOf100 > 100 {
		return fmt.Errorf("gpu.throttle_of_100 must be 0-100, got %d", c.GPU.ThrottleOf100)
	}

	if c.Network.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("network.poll_interval too short (minimum 100ms), got %v", c.Network.PollInterval)
	}

	if c.Network.CoinCheckPeriod < time.Second {
		return fmt.Errorf("network.coin_check_period too short (minimum 1s), got %v", c.Network.CoinCheckPeriod)
	}

	if c.Network.DirectTimeout <= 0 {
		return fmt.Errorf("network.direct_timeout must be positive, got %v", c.Network.DirectTimeout)
	}

	if c.Network.ProxyTimeout <= 0 {
		return fmt.Errorf("network.proxy_timeout must be positive, got %v", c.Network.ProxyTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "color": true, "json": true}
	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %q (must be text, color, or json)", c.Logging.Format)
	}

	return nil
}

// LoadMinerConfig loads configuration from file, environment, and defaults.
//
// Configuration sources are applied in the following precedence order
// (highest to lowest):
//  1. Command-line flags (handled by caller, not by this function)
//  2. Environment variables (CPEN442_MINER_* prefix)
//  3. Configuration file (miner-config.yaml or specified path)
//  4. Default values
//
// If configPath is empty, the function searches for "miner-config.yaml" in
// the current directory, $HOME/.cpen442, and /etc/cpen442. If no config file
// is found in the search paths, defaults are used without error. If
// configPath is specified but the file doesn't exist, an error is returned.
func LoadMinerConfig(configPath string) (*MinerConfig, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("miner-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cpen442")
		v.AddConfigPath("/etc/cpen442")
	}

	v.SetEnvPrefix("CPEN442_MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg MinerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// WatchMinerConfig starts a background goroutine that watches the
// configuration file and calls the callback when changes are detected.
// Cancelling ctx only logs a debug line; viper's file watcher itself keeps
// running. If log is nil, logging is disabled. The callback receives the
// re-read, validated config; applying it to anything is up to the callback.
func WatchMinerConfig(ctx context.Context, configPath string, callback func(*MinerConfig), log *slog.Logger) error {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("miner-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cpen442")
		v.AddConfigPath("/etc/cpen442")
	}

	v.SetEnvPrefix("CPEN442_MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if log != nil {
			log.Info("configuration file changed", "file", e.Name, "operation", e.Op.String())
		}

		var newCfg MinerConfig
		if err := v.Unmarshal(&newCfg); err != nil {
			if log != nil {
				log.Error("failed to unmarshal config on reload", "error", err, "file", e.Name)
			}
			return
		}

		if err := newCfg.Validate(); err != nil {
			if log != nil {
				log.Error("invalid configuration after reload", "error", err, "file", e.Name)
			}
			return
		}

		if log != nil {
			log.Info("configuration reloaded successfully", "file", e.Name)
		}

		callback(&newCfg)
	})

	go func() {
		<-ctx.Done()
		if log != nil {
			log.Debug("config watcher stopped", "reason", "context cancelled")
		}
	}()

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("identity.value", DefaultIdentity)
	v.SetDefault("identity.hash_as_md5", false)
	v.SetDefault("mining.num_cpu_workers", DefaultNumCPUWorkers)
	v.SetDefault("mining.gpu_enabled", DefaultGPUEnabled)
	v.SetDefault("mining.fake_mode", DefaultFakeMode)
	v.SetDefault("gpu.device_index", 0)
	v.SetDefault("gpu.max_loop_ms", DefaultGPUMaxLoopMS)
	v.SetDefault("gpu.throttle_of_100", DefaultGPUThrottleOf100)
	v.SetDefault("network.proxy_file", DefaultProxyFile)
	v.SetDefault("network.poll_interval", DefaultPollInterval)
	v.SetDefault("network.coin_check_period", DefaultCoinCheckPeriod)
	v.SetDefault("network.stats_print_period", DefaultStatsPrintPeriod)
	v.SetDefault("network.stop_miner_period", DefaultStopMinerPeriod)
	v.SetDefault("network.direct_timeout", DefaultDirectTimeout)
	v.SetDefault("network.proxy_timeout", DefaultProxyTimeout)
	v.SetDefault("wallet.file", DefaultWalletFile)
	v.SetDefault("logging.level", DefaultLoggingLevel)
	v.SetDefault("logging.format", DefaultLoggingFormat)
	v.SetDefault("logging.quiet", DefaultLoggingQuiet)
	v.SetDefault("logging.verbose", DefaultLoggingVerbose)
}
