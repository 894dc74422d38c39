// Package config provides Viper-based configuration loading for the lobby server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// InboxSize is the number of inbound jobs the dispatch loop buffers.
	InboxSize int `mapstructure:"inbox_size"`
	// OutboxSize is the number of outbound events buffered per connection.
	OutboxSize int `mapstructure:"outbox_size"`
}

// TelnetConfig holds line-oriented TCP acceptor settings.
type TelnetConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout; zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout; zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxClients caps concurrent connections; zero means unlimited.
	MaxClients int `mapstructure:"max_clients"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TelnetConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// HTTPConfig holds the HTTP router and WebSocket settings.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Mode is the gin mode: "debug", "release" or "test".
	Mode string `mapstructure:"mode"`
	// ReadLimit is the largest inbound WebSocket message in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// PingPeriod is the interval between WebSocket pings.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PongWait is how long a WebSocket may stay silent before it is dropped.
func (h HTTPConfig) PongWait() time.Duration {
	return h.PingPeriod * 10 / 9
}

// GRPCConfig holds the gRPC stream transport settings.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ApplicationsConfig locates application definitions.
type ApplicationsConfig struct {
	// Dir holds application YAML files. Empty registers only the built-in chat.
	Dir string `mapstructure:"dir"`
	// ScriptInstructionLimit applies to definitions that set no limit.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Telnet       TelnetConfig       `mapstructure:"telnet"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Applications ApplicationsConfig `mapstructure:"applications"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateTelnet(c.Telnet),
		validateHTTP(c.HTTP),
		validateGRPC(c.GRPC),
		validateLogging(c.Logging),
		validateApplications(c.Applications),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if !c.Telnet.Enabled && !c.HTTP.Enabled && !c.GRPC.Enabled {
		errs = append(errs, "at least one of telnet, http or grpc must be enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(section string, port int) string {
	if port < 1 || port > 65535 {
		return fmt.Sprintf("%s.port must be 1-65535, got %d", section, port)
	}
	return ""
}

func joined(errs []string) error {
	var kept []string
	for _, e := range errs {
		if e != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		return errors.New(strings.Join(kept, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.inbox_size must be >= 1, got %d", s.InboxSize))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	return joined(errs)
}

func validateTelnet(t TelnetConfig) error {
	if !t.Enabled {
		return nil
	}
	errs := []string{validatePort("telnet", t.Port)}
	if t.ReadTimeout < 0 {
		errs = append(errs, "telnet.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "telnet.write_timeout must not be negative")
	}
	if t.MaxClients < 0 {
		errs = append(errs, "telnet.max_clients must not be negative")
	}
	return joined(errs)
}

func validateHTTP(h HTTPConfig) error {
	if !h.Enabled {
		return nil
	}
	errs := []string{validatePort("http", h.Port)}
	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[h.Mode] {
		errs = append(errs, fmt.Sprintf("http.mode must be one of [debug, release, test], got %q", h.Mode))
	}
	if h.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("http.read_limit must be >= 1, got %d", h.ReadLimit))
	}
	if h.PingPeriod <= 0 {
		errs = append(errs, "http.ping_period must be positive")
	}
	if h.WriteTimeout <= 0 {
		errs = append(errs, "http.write_timeout must be positive")
	}
	return joined(errs)
}

func validateGRPC(g GRPCConfig) error {
	if !g.Enabled {
		return nil
	}
	return joined([]string{validatePort("grpc", g.Port)})
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateApplications(a ApplicationsConfig) error {
	if a.ScriptInstructionLimit < 0 {
		return fmt.Errorf("applications.script_instruction_limit must be >= 0, got %d", a.ScriptInstructionLimit)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with LOBBER_ prefix
	v.SetEnvPrefix("LOBBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the default settings.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "lobber")
	v.SetDefault("server.inbox_size", 1024)
	v.SetDefault("server.outbox_size", 64)

	v.SetDefault("telnet.enabled", true)
	v.SetDefault("telnet.host", "0.0.0.0")
	v.SetDefault("telnet.port", 4000)
	v.SetDefault("telnet.read_timeout", "5m")
	v.SetDefault("telnet.write_timeout", "30s")
	v.SetDefault("telnet.max_clients", 0)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_limit", 64*1024)
	v.SetDefault("http.ping_period", "30s")
	v.SetDefault("http.write_timeout", "10s")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("applications.dir", "")
	v.SetDefault("applications.script_instruction_limit", 100_000)
}
