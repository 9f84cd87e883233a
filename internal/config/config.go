// Package config loads fieldstock configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// FIELDSTOCK_* environment variables (which may come from a .env file).
// Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the server.
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// AdminUser is the username of the admin created on first run.
	AdminUser string `yaml:"admin_user"`

	// LogFile, if set, receives a copy of all log output.
	LogFile string `yaml:"log_file"`

	// AmendWindow is how long after completion a technician may amend an order.
	AmendWindow time.Duration `yaml:"amend_window"`

	// NodeID is the snowflake node used for order and batch numbers. Instances
	// sharing a database need distinct node ids.
	NodeID int64 `yaml:"node_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    "fieldstock.sqlite3",
		Addr:        ":8080",
		AdminUser:   "Admin",
		AmendWindow: 15 * time.Minute,
	}
}

// LoadDotEnv exports the variables in a .env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// the process environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FIELDSTOCK_DB":    &c.Database,
		"FIELDSTOCK_ADDR":  &c.Addr,
		"FIELDSTOCK_ADMIN": &c.AdminUser,
		"FIELDSTOCK_LOG":   &c.LogFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("FIELDSTOCK_AMEND_WINDOW"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FIELDSTOCK_AMEND_WINDOW: %w", err)
		}
		c.AmendWindow = d
	}
	if v, ok := lookup("FIELDSTOCK_NODE_ID"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FIELDSTOCK_NODE_ID: %w", err)
		}
		c.NodeID = n
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path is required")
	}
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.AdminUser == "" {
		return errors.New("admin username is required")
	}
	if c.AmendWindow < 0 {
		return fmt.Errorf("amend window cannot be negative: %s", c.AmendWindow)
	}
	// Snowflake node ids are 10 bits.
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node id must be between 0 and 1023, got %d", c.NodeID)
	}
	return nil
}
