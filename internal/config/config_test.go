package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ratescan/ratescan/internal/config"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080
read_timeout = "1m"
write_timeout = "15m"
shutdown_timeout = "30s"

[database]
host = "localhost"
port = 5432
name = "ratescan"
user = "ratescan"
password = "ratescan"
ssl_mode = "disable"
max_open_conns = 25
max_idle_conns = 5
conn_max_lifetime = "15m"
conn_timeout = "5s"

[storage]
container_name = "tariffs"
connection_string = "DefaultEndpointsProtocol=http;AccountName=ratescanstore;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/ratescanstore;"

[queue]
driver = "memory"

[inference]
base_url = "http://localhost:11434"
model = "qwen2.5:7b-instruct"
timeout = "5m"

[workers]
poll_interval = "2s"
ack_wait = "10m"
max_deliver = 5

[workers.ingest]
max_in_flight = 4

[workers.detect]
max_in_flight = 2

[workers.export]
max_in_flight = 2

[api]
base_path = "/api"
max_upload_size = "50MB"

[api.pagination]
default_page_size = 25
max_page_size = 50
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[inference]
model = "qwen2.5:32b-instruct"
`

// minimalConfig provides the minimum fields required for validation to
// pass (db name, db user, storage connection string). Everything else
// fills in from defaults.
const minimalConfig = `
[database]
name = "ratescan"
user = "ratescan"

[storage]
connection_string = "conn"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("db host: got %s, want localhost", cfg.Database.Host)
	}
	if cfg.Storage.ContainerName != "tariffs" {
		t.Errorf("storage container: got %s, want tariffs", cfg.Storage.ContainerName)
	}
	if cfg.Queue.Driver != "memory" {
		t.Errorf("queue driver: got %s, want memory", cfg.Queue.Driver)
	}
	if cfg.Inference.Model != "qwen2.5:7b-instruct" {
		t.Errorf("inference model: got %s", cfg.Inference.Model)
	}
	if cfg.Workers.Ingest.MaxInFlight != 4 {
		t.Errorf("ingest max_in_flight: got %d, want 4", cfg.Workers.Ingest.MaxInFlight)
	}
	if cfg.API.BasePath != "/api" {
		t.Errorf("api base_path: got %s, want /api", cfg.API.BasePath)
	}
	if cfg.API.Pagination.DefaultPageSize != 25 {
		t.Errorf("pagination default_page_size: got %d, want 25", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.API.Pagination.MaxPageSize != 50 {
		t.Errorf("pagination max_page_size: got %d, want 50", cfg.API.Pagination.MaxPageSize)
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	chdir(t, dir)

	t.Setenv("RATESCAN_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from base)", cfg.Database.Port)
	}
	if cfg.Inference.Model != "qwen2.5:32b-instruct" {
		t.Errorf("inference model: got %s, want overlay value", cfg.Inference.Model)
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("RATESCAN_VERSION", "2.0.0")
	t.Setenv("RATESCAN_SERVER_PORT", "3000")
	t.Setenv("RATESCAN_QUEUE_DRIVER", "postgres")
	t.Setenv("RATESCAN_INFERENCE_MODEL", "llama3.1:8b")
	t.Setenv("RATESCAN_WORKERS_MAX_DELIVER", "3")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if cfg.Queue.Driver != "postgres" {
		t.Errorf("queue driver: got %s, want postgres", cfg.Queue.Driver)
	}
	if cfg.Inference.Model != "llama3.1:8b" {
		t.Errorf("inference model: got %s, want llama3.1:8b", cfg.Inference.Model)
	}
	if cfg.Workers.MaxDeliver != 3 {
		t.Errorf("max_deliver: got %d, want 3", cfg.Workers.MaxDeliver)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("RATESCAN_DB_NAME", "testdb")
	t.Setenv("RATESCAN_DB_USER", "testuser")
	t.Setenv("RATESCAN_STORAGE_CONNECTION_STRING", "conn")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name from env: got %s, want testdb", cfg.Database.Name)
	}
	if cfg.Queue.Driver != "postgres" {
		t.Errorf("queue driver default: got %s, want postgres", cfg.Queue.Driver)
	}
	if cfg.Inference.BaseURL != "http://localhost:11434" {
		t.Errorf("inference base_url default: got %s", cfg.Inference.BaseURL)
	}
	if cfg.Workers.PollInterval != "2s" || cfg.Workers.AckWait != "10m" || cfg.Workers.MaxDeliver != 5 {
		t.Errorf("workers defaults: got %s/%s/%d, want 2s/10m/5",
			cfg.Workers.PollInterval, cfg.Workers.AckWait, cfg.Workers.MaxDeliver)
	}
	if cfg.Workers.Ingest.MaxInFlight != 4 || cfg.Workers.Detect.MaxInFlight != 2 || cfg.Workers.Export.MaxInFlight != 2 {
		t.Errorf("stage defaults: got %d/%d/%d, want 4/2/2",
			cfg.Workers.Ingest.MaxInFlight, cfg.Workers.Detect.MaxInFlight, cfg.Workers.Export.MaxInFlight)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", `shutdown_timeout = [`)
	chdir(t, dir)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadInvalidWorkers(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", minimalConfig+"\n[workers.detect]\nmax_in_flight = -1\n")
	chdir(t, dir)

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for negative max_in_flight")
	}
	if !strings.Contains(err.Error(), "max_in_flight") {
		t.Errorf("error = %v, want max_in_flight mention", err)
	}
}

func TestEnvDefault(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "local" {
		t.Errorf("env: got %s, want local", cfg.Env())
	}
}

func TestEnvFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("RATESCAN_ENV", "production")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "production" {
		t.Errorf("env: got %s, want production", cfg.Env())
	}
}

func TestShutdownTimeoutDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if d := cfg.ShutdownTimeoutDuration(); d != 30*time.Second {
		t.Errorf("shutdown timeout: got %v, want 30s", d)
	}
}

func TestServerAddr(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if addr := cfg.Server.Addr(); addr != "0.0.0.0:8080" {
		t.Errorf("addr: got %s, want 0.0.0.0:8080", addr)
	}
}

func TestWorkersDurations(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if d := cfg.Workers.PollIntervalDuration(); d != 2*time.Second {
		t.Errorf("poll interval: got %v, want 2s", d)
	}
	if d := cfg.Workers.AckWaitDuration(); d != 10*time.Minute {
		t.Errorf("ack wait: got %v, want 10m", d)
	}
}

func TestInferenceTimeoutDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if d := cfg.Inference.TimeoutDuration(); d != 5*time.Minute {
		t.Errorf("inference timeout: got %v, want 5m", d)
	}
}

func TestMaxUploadSizeBytes(t *testing.T) {
	t.Run("parses configured size", func(t *testing.T) {
		cfg := config.APIConfig{MaxUploadSize: "10MB"}
		if got := cfg.MaxUploadSizeBytes(); got != 10*1024*1024 {
			t.Errorf("size = %d, want %d", got, 10*1024*1024)
		}
	})

	t.Run("falls back on unparseable size", func(t *testing.T) {
		cfg := config.APIConfig{MaxUploadSize: "huge"}
		if got := cfg.MaxUploadSizeBytes(); got != 50*1024*1024 {
			t.Errorf("size = %d, want 50MB fallback", got)
		}
	})
}

func TestPaginationDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", minimalConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.Pagination.DefaultPageSize != 20 {
		t.Errorf("pagination default_page_size: got %d, want 20", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.API.Pagination.MaxPageSize != 100 {
		t.Errorf("pagination max_page_size: got %d, want 100", cfg.API.Pagination.MaxPageSize)
	}
}
