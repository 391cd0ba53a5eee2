// Package config loads wrokhub settings from a YAML file, then applies
// WROKHUB_* environment overrides. Command-line flags are layered on top
// by the commands package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WROKHUB_"

// Config is the full service configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Auth     Auth     `yaml:"auth"`
	Broker   Broker   `yaml:"broker"`
	Log      Log      `yaml:"log"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins are host patterns accepted on websocket upgrades in
	// addition to same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Database selects and configures the storage backend.
type Database struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite file; ignored for postgres.
	Path string `yaml:"path"`
	// DSN is the postgres connection string; ignored for sqlite.
	DSN string `yaml:"dsn"`
	// OpTimeout bounds every persistence call made on behalf of a
	// connection or request.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// Auth configures bearer token verification.
type Auth struct {
	Secret        string        `yaml:"secret"`
	Issuer        string        `yaml:"issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	CookieName    string        `yaml:"cookie_name"`
	QueryParam    string        `yaml:"query_param"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

// Broker configures per-connection delivery.
type Broker struct {
	// SendBuffer is the outbound frame queue length per connection.
	SendBuffer int `yaml:"send_buffer"`
	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver:    "sqlite",
			Path:      defaultDatabasePath(),
			OpTimeout: 5 * time.Second,
		},
		Auth: Auth{
			Issuer:        "wrokhub",
			TokenTTL:      time.Hour,
			CookieName:    "access",
			QueryParam:    "token",
			VerifyTimeout: 3 * time.Second,
		},
		Broker: Broker{
			SendBuffer:   64,
			WriteTimeout: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultDatabasePath returns ~/.wrokhub/wrokhub.db, falling back to the
// working directory when there is no home.
func defaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "wrokhub.db"
	}
	return filepath.Join(homeDir, ".wrokhub", "wrokhub.db")
}

// Load reads path (if it exists) over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":        &c.Server.Addr,
		"DB_DRIVER":   &c.Database.Driver,
		"DB_PATH":     &c.Database.Path,
		"DB_DSN":      &c.Database.DSN,
		"AUTH_SECRET": &c.Auth.Secret,
		"AUTH_ISSUER": &c.Auth.Issuer,
		"AUTH_COOKIE": &c.Auth.CookieName,
		"AUTH_QUERY":  &c.Auth.QueryParam,
		"LOG_LEVEL":   &c.Log.Level,
		"LOG_FORMAT":  &c.Log.Format,
		"LOG_FILE":    &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"DB_OP_TIMEOUT":        &c.Database.OpTimeout,
		"AUTH_TOKEN_TTL":       &c.Auth.TokenTTL,
		"AUTH_VERIFY_TIMEOUT":  &c.Auth.VerifyTimeout,
		"BROKER_WRITE_TIMEOUT": &c.Broker.WriteTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "BROKER_SEND_BUFFER"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sBROKER_SEND_BUFFER: %w", EnvPrefix, err)
		}
		c.Broker.SendBuffer = n
	}
	return nil
}

// Validate checks the settings the server cannot run without.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("config: database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("config: database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if len(c.Auth.Secret) < 16 {
		return errors.New("config: auth.secret must be at least 16 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.Broker.SendBuffer <= 0 {
		return errors.New("config: broker.send_buffer must be positive")
	}
	return nil
}
