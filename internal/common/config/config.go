// Package config provides configuration management for the control plane.
// It supports loading configuration from environment variables, an optional
// workspace-local config file, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the control plane.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Docker   DockerConfig   `mapstructure:"docker"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds RT's HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// WatchdogConfig holds SUP's restart-policy tunables.
type WatchdogConfig struct {
	InitialBackoffMs          int    `mapstructure:"initialBackoffMs"`
	MaxBackoffMs              int    `mapstructure:"maxBackoffMs"`
	BackoffMultiplier         float64 `mapstructure:"backoffMultiplier"`
	UptimeResetThresholdMs    int    `mapstructure:"uptimeResetThresholdMs"`
	RestartWindowMs           int    `mapstructure:"restartWindowMs"`
	MaxRestartsInWindow       int    `mapstructure:"maxRestartsInWindow"`
	HealthCheckEnabled        bool   `mapstructure:"healthCheckEnabled"`
	HealthCheckIntervalMs     int    `mapstructure:"healthCheckIntervalMs"`
	HealthCheckTimeoutMs      int    `mapstructure:"healthCheckTimeoutMs"`
	HealthCheckFailThreshold  int    `mapstructure:"healthCheckFailThreshold"`
	GracefulShutdownTimeoutMs int    `mapstructure:"gracefulShutdownTimeoutMs"`
	PidFile                   string `mapstructure:"pidFile"`
	ContainerCheckIntervalMs  int    `mapstructure:"containerCheckIntervalMs"`
	TestMode                  bool   `mapstructure:"testMode"`
}

// DockerConfig holds ContainerDriver's connection configuration.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	TLSVerify  bool   `mapstructure:"tlsVerify"`
}

// NATSConfig holds the ambient event bus's NATS configuration. Empty URL
// means fall back to the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "json"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("watchdog.initialBackoffMs", 1000)
	v.SetDefault("watchdog.maxBackoffMs", 30000)
	v.SetDefault("watchdog.backoffMultiplier", 2.0)
	v.SetDefault("watchdog.uptimeResetThresholdMs", 60000)
	v.SetDefault("watchdog.restartWindowMs", 60000)
	v.SetDefault("watchdog.maxRestartsInWindow", 5)
	v.SetDefault("watchdog.healthCheckEnabled", true)
	v.SetDefault("watchdog.healthCheckIntervalMs", 30000)
	v.SetDefault("watchdog.healthCheckTimeoutMs", 5000)
	v.SetDefault("watchdog.healthCheckFailThreshold", 3)
	v.SetDefault("watchdog.gracefulShutdownTimeoutMs", 15000)
	v.SetDefault("watchdog.pidFile", "")
	v.SetDefault("watchdog.containerCheckIntervalMs", 5000)
	v.SetDefault("watchdog.testMode", false)

	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "ploinky")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// DefaultDockerHost returns the platform-appropriate container runtime
// socket path. Respects DOCKER_HOST as an override (standard convention,
// also honored by podman's docker-compat shim).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from environment variables, an optional
// .ploinky/config.json overlay, and defaults. Environment variables
// recognized directly: PORT, HEALTH_CHECK_ENABLED,
// PLOINKY_ROUTER_PID_FILE, PLOINKY_WATCHDOG_TEST_MODE, PLOINKY_LOG_LEVEL;
// this function also accepts the PLOINKY_ prefixed / snake_case form of
// every field for operators who prefer the generic override path.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified workspace directory
// (where .ploinky/config.json is expected) or the current directory.
func LoadWithPath(workspaceDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PLOINKY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare env var names take precedence over the
	// generic PLOINKY_* scheme.
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("watchdog.pidFile", "PLOINKY_ROUTER_PID_FILE")
	_ = v.BindEnv("watchdog.testMode", "PLOINKY_WATCHDOG_TEST_MODE")
	_ = v.BindEnv("logging.level", "PLOINKY_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("json")
	if workspaceDir != "" {
		v.AddConfigPath(workspaceDir + "/.ploinky")
	}
	v.AddConfigPath(".ploinky")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading .ploinky/config.json: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// HEALTH_CHECK_ENABLED uses exact string equality: "false" disables,
	// anything else including unset leaves it enabled.
	if raw, ok := os.LookupEnv("HEALTH_CHECK_ENABLED"); ok && raw == "false" {
		cfg.Watchdog.HealthCheckEnabled = false
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that configuration values are self-consistent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Watchdog.InitialBackoffMs <= 0 {
		errs = append(errs, "watchdog.initialBackoffMs must be positive")
	}
	if cfg.Watchdog.MaxBackoffMs < cfg.Watchdog.InitialBackoffMs {
		errs = append(errs, "watchdog.maxBackoffMs must be >= watchdog.initialBackoffMs")
	}
	if cfg.Watchdog.MaxRestartsInWindow <= 0 {
		errs = append(errs, "watchdog.maxRestartsInWindow must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
