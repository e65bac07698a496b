package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvWorkersPollInterval = "RATESCAN_WORKERS_POLL_INTERVAL"
	EnvWorkersAckWait      = "RATESCAN_WORKERS_ACK_WAIT"
	EnvWorkersMaxDeliver   = "RATESCAN_WORKERS_MAX_DELIVER"
)

// WorkersConfig holds delivery policy and per-stage concurrency for the
// stage workers. Extraction concurrency is fixed at one and is not
// configurable; the extract consumer always runs with a single in-flight
// message so the inference backend never sees concurrent requests.
type WorkersConfig struct {
	PollInterval string      `toml:"poll_interval"`
	AckWait      string      `toml:"ack_wait"`
	MaxDeliver   int         `toml:"max_deliver"`
	Ingest       StageConfig `toml:"ingest"`
	Detect       StageConfig `toml:"detect"`
	Export       StageConfig `toml:"export"`
}

// StageConfig holds per-stage worker settings.
type StageConfig struct {
	MaxInFlight int `toml:"max_in_flight"`
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (c *WorkersConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// AckWaitDuration returns AckWait as a time.Duration.
func (c *WorkersConfig) AckWaitDuration() time.Duration {
	d, _ := time.ParseDuration(c.AckWait)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *WorkersConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *WorkersConfig) Merge(overlay *WorkersConfig) {
	if overlay.PollInterval != "" {
		c.PollInterval = overlay.PollInterval
	}
	if overlay.AckWait != "" {
		c.AckWait = overlay.AckWait
	}
	if overlay.MaxDeliver != 0 {
		c.MaxDeliver = overlay.MaxDeliver
	}
	if overlay.Ingest.MaxInFlight != 0 {
		c.Ingest.MaxInFlight = overlay.Ingest.MaxInFlight
	}
	if overlay.Detect.MaxInFlight != 0 {
		c.Detect.MaxInFlight = overlay.Detect.MaxInFlight
	}
	if overlay.Export.MaxInFlight != 0 {
		c.Export.MaxInFlight = overlay.Export.MaxInFlight
	}
}

func (c *WorkersConfig) loadDefaults() {
	if c.PollInterval == "" {
		c.PollInterval = "2s"
	}
	if c.AckWait == "" {
		c.AckWait = "10m"
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
	if c.Ingest.MaxInFlight == 0 {
		c.Ingest.MaxInFlight = 4
	}
	if c.Detect.MaxInFlight == 0 {
		c.Detect.MaxInFlight = 2
	}
	if c.Export.MaxInFlight == 0 {
		c.Export.MaxInFlight = 2
	}
}

func (c *WorkersConfig) loadEnv() {
	if v := os.Getenv(EnvWorkersPollInterval); v != "" {
		c.PollInterval = v
	}
	if v := os.Getenv(EnvWorkersAckWait); v != "" {
		c.AckWait = v
	}
	if v := os.Getenv(EnvWorkersMaxDeliver); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxDeliver = n
		}
	}
}

func (c *WorkersConfig) validate() error {
	if _, err := time.ParseDuration(c.PollInterval); err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.AckWait); err != nil {
		return fmt.Errorf("invalid ack_wait: %w", err)
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("max_deliver must be at least 1")
	}
	if c.Ingest.MaxInFlight < 1 || c.Detect.MaxInFlight < 1 || c.Export.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1")
	}
	return nil
}
