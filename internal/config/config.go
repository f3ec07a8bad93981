// Package config loads arbiter settings from a config file, ARBITER_*
// environment variables and flags through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// EnvPrefix is prepended to every environment override, e.g. ARBITER_POLICY_STOP_DWELL.
const EnvPrefix = "ARBITER"

// Config represents the complete arbiter configuration
type Config struct {
	Policy  PolicyConfig  `mapstructure:"policy"`
	Arbiter ArbiterConfig `mapstructure:"arbiter"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// PolicyConfig holds the admission constants
type PolicyConfig struct {
	// StopDwell is how long a must-stop turn waits before it may go (default: 1.5s)
	StopDwell time.Duration `mapstructure:"stop_dwell"`
	// SpeedLimit in metres per second, used for signal crossing time (default: 20 mph)
	SpeedLimit float64 `mapstructure:"speed_limit"`
}

// ArbiterConfig controls batch evaluation
type ArbiterConfig struct {
	// Parallelism bounds concurrently evaluated intersections (0 = unbounded)
	Parallelism int `mapstructure:"parallelism"`
}

// StoreConfig controls checkpoint and decision log persistence
type StoreConfig struct {
	// Path is the SQLite database file
	Path string `mapstructure:"path"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir receives arbiter.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the gRPC listener
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Policy: PolicyConfig{
			StopDwell:  1500 * time.Millisecond,
			SpeedLimit: sim.DefaultSpeedLimit,
		},
		Arbiter: ArbiterConfig{Parallelism: 0},
		Store:   StoreConfig{Path: "arbiter.db"},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Addr: "localhost:50061"},
	}
}

// SetDefaults registers every default with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("policy.stop_dwell", defaults.Policy.StopDwell)
	v.SetDefault("policy.speed_limit", defaults.Policy.SpeedLimit)
	v.SetDefault("arbiter.parallelism", defaults.Arbiter.Parallelism)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("server.addr", defaults.Server.Addr)
}

// Init prepares v: defaults, ARBITER_ environment overrides and, when
// cfgFile is set, that file; otherwise config.yaml in ConfigDir or the
// working directory if present.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return v.ReadInConfig()
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ArbiterConfig converts the loaded settings into an arbiter.Config
func (c *Config) ArbiterConfig() arbiter.Config {
	return arbiter.Config{
		Policy: policy.Config{
			StopDwell:  c.Policy.StopDwell,
			SpeedLimit: c.Policy.SpeedLimit,
		},
		Parallelism: c.Arbiter.Parallelism,
	}
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "intersection-arbiter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".intersection-arbiter"
	}
	return filepath.Join(home, ".config", "intersection-arbiter")
}
