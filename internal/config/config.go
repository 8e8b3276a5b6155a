package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Specialist SpecialistConfig
	Events     EventsConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
	Metrics        bool   `mapstructure:"metrics"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// StoreConfig holds the conversation store configuration
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ProgressTTL     time.Duration `mapstructure:"progress_ttl"`
}

// SpecialistConfig holds the downstream service configuration
type SpecialistConfig struct {
	InvokeURL         string        `mapstructure:"invoke_url"`
	ConceptsService   string        `mapstructure:"concepts_service"`
	CodeRunnerService string        `mapstructure:"code_runner_service"`
	ChatTimeout       time.Duration `mapstructure:"chat_timeout"`
	CodeTimeout       time.Duration `mapstructure:"code_timeout"`
}

// Event bus backends.
const (
	BackendRedis   = "redis"
	BackendSidecar = "sidecar"
	BackendLog     = "log"
)

// EventsConfig holds the event bus configuration
type EventsConfig struct {
	Backend        string        `mapstructure:"backend"`
	RedisURL       string        `mapstructure:"redis_url"`
	SidecarURL     string        `mapstructure:"sidecar_url"`
	PubSub         string        `mapstructure:"pubsub"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	Subscribe      bool          `mapstructure:"subscribe"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.metrics", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "learnflow.db")
	v.SetDefault("store.max_open_conns", 5)
	v.SetDefault("store.max_idle_conns", 1)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.progress_ttl", 30*time.Second)

	v.SetDefault("specialist.invoke_url", "http://localhost:3500")
	v.SetDefault("specialist.concepts_service", "concepts-agent")
	v.SetDefault("specialist.code_runner_service", "code-runner")
	v.SetDefault("specialist.chat_timeout", 30*time.Second)
	v.SetDefault("specialist.code_timeout", 15*time.Second)

	v.SetDefault("events.backend", BackendLog)
	v.SetDefault("events.redis_url", "redis://localhost:6379")
	v.SetDefault("events.sidecar_url", "http://localhost:3500")
	v.SetDefault("events.pubsub", "kafka-pubsub")
	v.SetDefault("events.publish_timeout", 5*time.Second)
	v.SetDefault("events.subscribe", false)
}

// Load loads the configuration from .env, config.yaml (or CONFIG_PATH) and
// TRIAGE_* environment variables, in increasing priority. A missing config
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver)
	}
	switch c.Events.Backend {
	case BackendRedis, BackendSidecar, BackendLog:
	default:
		return fmt.Errorf("events.backend: unsupported backend %q", c.Events.Backend)
	}
	if c.Specialist.ChatTimeout <= 0 || c.Specialist.CodeTimeout <= 0 {
		return errors.New("specialist timeouts must be positive")
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}
