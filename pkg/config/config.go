// Package config loads and validates the fixgate configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (FIXGATE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/fixgate/internal/transport"
	"github.com/marmos91/fixgate/pkg/session"
	"github.com/marmos91/fixgate/pkg/store"
)

// Config is the full fixgate configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Session configures the FIX session itself.
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Store configures the persistent message journal.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Metrics configures Prometheus collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the admin REST server.
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Telemetry configures OpenTelemetry tracing and profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Schedule holds daily start/stop/reset triggers.
	Schedule []ScheduleConfig `mapstructure:"schedule" yaml:"schedule,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"            yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// SessionConfig mirrors session.Config in file form.
type SessionConfig struct {
	Mode              string        `mapstructure:"mode"               validate:"required,oneof=initiator acceptor" yaml:"mode"`
	Sender            string        `mapstructure:"sender"             validate:"required"                          yaml:"sender"`
	Target            string        `mapstructure:"target"             validate:"required,nefield=Sender"           yaml:"target"`
	Version           string        `mapstructure:"version"            validate:"omitempty,oneof=FIX.4.2 FIX.4.3 FIX.4.4" yaml:"version"`
	Host              string        `mapstructure:"host"               yaml:"host"`
	Port              int           `mapstructure:"port"               validate:"required,gt=0,lte=65535"           yaml:"port"`
	HeartbeatInterval int           `mapstructure:"heartbeat_interval" validate:"omitempty,gt=0"                    yaml:"heartbeat_interval"`
	ResetSeqNumOnLogon bool         `mapstructure:"reset_seq_num_on_logon" yaml:"reset_seq_num_on_logon"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"     yaml:"retry_interval"`
	MaxRetries        int           `mapstructure:"max_retries"        yaml:"max_retries"`
	LogonTimeout      time.Duration `mapstructure:"logon_timeout"      yaml:"logon_timeout"`
	LogoutTimeout     time.Duration `mapstructure:"logout_timeout"     yaml:"logout_timeout"`

	UseTLS             bool   `mapstructure:"use_tls"              yaml:"use_tls"`
	CertFile           string `mapstructure:"certfile"             yaml:"certfile,omitempty"`
	KeyFile            string `mapstructure:"keyfile"              yaml:"keyfile,omitempty"`
	TLSServerName      string `mapstructure:"tls_server_name"      yaml:"tls_server_name,omitempty"`
	TLSInsecureSkipVerify bool `mapstructure:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify,omitempty"`
}

// StoreConfig selects the journal backend.
type StoreConfig struct {
	// Type: memory, badger, sqlite or postgres.
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory badger sqlite postgres" yaml:"type"`

	// Path is the state location for badger (directory) and sqlite
	// (file).
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// PostgresConfig carries PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"     yaml:"host,omitempty"`
	Port     int    `mapstructure:"port"     yaml:"port,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	User     string `mapstructure:"user"     yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode  string `mapstructure:"sslmode"  yaml:"sslmode,omitempty"`
}

// MetricsConfig controls Prometheus collection. The registry is served
// by the admin API when both are enabled.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// APIConfig controls the admin REST server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host"    yaml:"host"`
	Port    int    `mapstructure:"port"    validate:"omitempty,gt=0,lte=65535" yaml:"port"`

	// JWTSecret enables bearer-token auth when non-empty.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
}

// TelemetryConfig controls tracing and continuous profiling.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"     yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"    yaml:"endpoint,omitempty"`
	Insecure   bool    `mapstructure:"insecure"    yaml:"insecure,omitempty"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling,omitempty"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled  bool   `mapstructure:"enabled"  yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// ScheduleConfig is a daily trigger entry.
type ScheduleConfig struct {
	Time   string `mapstructure:"time"   validate:"required" yaml:"time"`
	Action string `mapstructure:"action" validate:"required,oneof=start stop reset reset_start" yaml:"action"`
}

// ApplyDefaults fills unset fields with sensible values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Session.Version == "" {
		cfg.Session.Version = "FIX.4.4"
	}
	if cfg.Session.HeartbeatInterval <= 0 {
		cfg.Session.HeartbeatInterval = 30
	}
	if cfg.Session.RetryInterval <= 0 {
		cfg.Session.RetryInterval = 5 * time.Second
	}
	if cfg.Session.LogonTimeout <= 0 {
		cfg.Session.LogonTimeout = 10 * time.Second
	}
	if cfg.Session.LogoutTimeout <= 0 {
		cfg.Session.LogoutTimeout = 10 * time.Second
	}
	if cfg.Session.Host == "" && cfg.Session.Mode == "acceptor" {
		cfg.Session.Host = "0.0.0.0"
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = string(store.BackendBadger)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(stateDir(), "journal")
	}
	if cfg.Store.Postgres.SSLMode == "" {
		cfg.Store.Postgres.SSLMode = "disable"
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 9910
	}

	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 0.1
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
}

// Validate runs struct validation plus the cross-field checks the
// tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Session.Mode == "initiator" && cfg.Session.Host == "" {
		return fmt.Errorf("session.host is required in initiator mode")
	}
	if cfg.Session.UseTLS && cfg.Session.Mode == "acceptor" &&
		(cfg.Session.CertFile == "" || cfg.Session.KeyFile == "") {
		return fmt.Errorf("acceptor TLS requires certfile and keyfile")
	}
	if store.Backend(cfg.Store.Type) == store.BackendPostgres && cfg.Store.Postgres.Host == "" {
		return fmt.Errorf("postgres store requires store.postgres.host")
	}
	for _, entry := range cfg.Schedule {
		sched := session.ScheduleEntry{Time: entry.Time, Action: session.ScheduleAction(entry.Action)}
		if err := sched.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SessionConfig converts the file form into the engine's Config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Mode:               session.Mode(c.Session.Mode),
		SenderCompID:       c.Session.Sender,
		TargetCompID:       c.Session.Target,
		BeginString:        c.Session.Version,
		Host:               c.Session.Host,
		Port:               c.Session.Port,
		HeartbeatInterval:  time.Duration(c.Session.HeartbeatInterval) * time.Second,
		ResetSeqNumOnLogon: c.Session.ResetSeqNumOnLogon,
		RetryInterval:      c.Session.RetryInterval,
		MaxRetries:         c.Session.MaxRetries,
		LogonTimeout:       c.Session.LogonTimeout,
		LogoutTimeout:      c.Session.LogoutTimeout,
		TLS: transportTLS(c.Session),
	}
}

// ScheduleEntries converts the schedule section.
func (c *Config) ScheduleEntries() []session.ScheduleEntry {
	out := make([]session.ScheduleEntry, 0, len(c.Schedule))
	for _, entry := range c.Schedule {
		out = append(out, session.ScheduleEntry{
			Time:   entry.Time,
			Action: session.ScheduleAction(entry.Action),
		})
	}
	return out
}

// Load reads configuration from file, environment and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if found {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with actionable error messages when
// the file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if _, err := os.Stat(DefaultConfigPath()); os.IsNotExist(err) {
			return nil, fmt.Errorf("no configuration file found at %s\n\n"+
				"Initialize one first:\n"+
				"  fixgate init\n\n"+
				"Or pass a custom config file:\n"+
				"  fixgate <command> --config /path/to/config.yaml",
				DefaultConfigPath())
		}
		configPath = DefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return Load(configPath)
}

// Save writes the configuration as YAML with restricted permissions;
// the file may carry credentials.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FIXGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets config files write durations as "30s" or
// plain integer seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return time.ParseDuration(value)
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float64:
			return time.Duration(value) * time.Second, nil
		default:
			return data, nil
		}
	}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fixgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fixgate")
}

func stateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "fixgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "fixgate")
}

// DefaultConfigPath is where init writes and commands look by default.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func transportTLS(sc SessionConfig) transport.TLSOptions {
	return transport.TLSOptions{
		Enabled:            sc.UseTLS,
		CertFile:           sc.CertFile,
		KeyFile:            sc.KeyFile,
		ServerName:         sc.TLSServerName,
		InsecureSkipVerify: sc.TLSInsecureSkipVerify,
	}
}
