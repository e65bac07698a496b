package queue

import (
	"fmt"
	"os"
)

// Queue driver identifiers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects the queue driver.
type Config struct {
	Driver string `toml:"driver"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Driver string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Driver != "" {
		c.Driver = overlay.Driver
	}
}

func (c *Config) loadDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Driver != "" {
		if v := os.Getenv(env.Driver); v != "" {
			c.Driver = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMemory:
		return nil
	default:
		return fmt.Errorf("invalid queue driver: %s", c.Driver)
	}
}
