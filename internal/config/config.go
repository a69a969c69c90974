package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigFile = "configuration.yaml"
	envPrefix         = "APP"
)

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	Application ApplicationSettings `yaml:"application" envconfig:"APPLICATION"`
	Database    DatabaseSettings    `yaml:"database" envconfig:"DATABASE"`
	Storage     StorageSettings     `yaml:"storage" envconfig:"STORAGE"`
	Logging     LoggingSettings     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetrySettings   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

type ApplicationSettings struct {
	Name            string        `yaml:"name" envconfig:"NAME"`
	Version         string        `yaml:"version" envconfig:"VERSION"`
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	GinMode         string        `yaml:"gin_mode" envconfig:"GIN_MODE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type DatabaseSettings struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	Username        string        `yaml:"username" envconfig:"USERNAME"`
	Password        string        `yaml:"password" envconfig:"PASSWORD"`
	DatabaseName    string        `yaml:"database_name" envconfig:"DATABASE_NAME"`
	RequireSSL      bool          `yaml:"require_ssl" envconfig:"REQUIRE_SSL"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	QueryTimeout    time.Duration `yaml:"query_timeout" envconfig:"QUERY_TIMEOUT"`
}

type StorageSettings struct {
	// Backend is one of "postgres", "dapr" or "memory".
	Backend        string `yaml:"backend" envconfig:"BACKEND"`
	DaprStateStore string `yaml:"dapr_state_store" envconfig:"DAPR_STATE_STORE"`
}

type LoggingSettings struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type TelemetrySettings struct {
	// Exporter is "stdout" or "none".
	Exporter string `yaml:"exporter" envconfig:"EXPORTER"`
}

func Defaults() Settings {
	return Settings{
		Application: ApplicationSettings{
			Name:            "newsletter-api",
			Version:         "1.0.0",
			Host:            "127.0.0.1",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseSettings{
			Port:            5432,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  2 * time.Second,
			QueryTimeout:    5 * time.Second,
		},
		Storage: StorageSettings{
			Backend:        "postgres",
			DaprStateStore: "statestore",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetrySettings{
			Exporter: "none",
		},
	}
}

// Load resolves settings from defaults, the YAML file at path, an optional
// .env file and APP_* environment variables, in that order of precedence.
// An empty path falls back to APP_CONFIG_FILE and then DefaultConfigFile.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG_FILE")
	}
	if path == "" {
		path = DefaultConfigFile
	}

	settings := Defaults()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(path, &settings); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	if err := envconfig.Process(envPrefix, &settings); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func loadFromFile(path string, settings *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, settings)
}

func (s *Settings) Validate() error {
	if s.Application.Port <= 0 || s.Application.Port > 65535 {
		return fmt.Errorf("%w: application.port %d out of range", ErrInvalidSettings, s.Application.Port)
	}

	switch s.Storage.Backend {
	case "postgres":
		if err := s.Database.validate(); err != nil {
			return err
		}
	case "dapr":
		if s.Storage.DaprStateStore == "" {
			return fmt.Errorf("%w: storage.dapr_state_store is required for the dapr backend", ErrInvalidSettings)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidSettings, s.Storage.Backend)
	}

	switch s.Telemetry.Exporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("%w: unknown telemetry.exporter %q", ErrInvalidSettings, s.Telemetry.Exporter)
	}

	return nil
}

func (d DatabaseSettings) validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("%w: database.host is required", ErrInvalidSettings)
	case d.Port <= 0:
		return fmt.Errorf("%w: database.port is required", ErrInvalidSettings)
	case d.Username == "":
		return fmt.Errorf("%w: database.username is required", ErrInvalidSettings)
	case d.DatabaseName == "":
		return fmt.Errorf("%w: database.database_name is required", ErrInvalidSettings)
	}
	return nil
}

// Address is the host:port the HTTP listener binds to.
func (a ApplicationSettings) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (d DatabaseSettings) ConnectionString() string {
	return d.url(d.DatabaseName).String()
}

// ConnectionStringWithoutDB points at the server's default database, for
// administrative statements such as CREATE DATABASE.
func (d DatabaseSettings) ConnectionStringWithoutDB() string {
	return d.url("").String()
}

func (d DatabaseSettings) url(database string) *url.URL {
	sslMode := "disable"
	if d.RequireSSL {
		sslMode = "require"
	}
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
}
