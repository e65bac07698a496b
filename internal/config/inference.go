package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

const (
	EnvInferenceBaseURL = "RATESCAN_INFERENCE_BASE_URL"
	EnvInferenceModel   = "RATESCAN_INFERENCE_MODEL"
	EnvInferenceTimeout = "RATESCAN_INFERENCE_TIMEOUT"
)

// InferenceConfig holds connection parameters for the Ollama inference
// backend used by the extract stage.
type InferenceConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *InferenceConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *InferenceConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *InferenceConfig) Merge(overlay *InferenceConfig) {
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.Model != "" {
		c.Model = overlay.Model
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
}

func (c *InferenceConfig) loadDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "qwen2.5:7b-instruct"
	}
	if c.Timeout == "" {
		c.Timeout = "5m"
	}
}

func (c *InferenceConfig) loadEnv() {
	if v := os.Getenv(EnvInferenceBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvInferenceModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvInferenceTimeout); v != "" {
		c.Timeout = v
	}
}

func (c *InferenceConfig) validate() error {
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.Model == "" {
		return fmt.Errorf("model required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	return nil
}
