package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("UPSCALE_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.UpscaleTimeout != 60*time.Second {
		t.Fatalf("UpscaleTimeout mismatch: got %s", cfg.UpscaleTimeout)
	}
	if cfg.ReplicateModelVersion != DefaultReplicateModelVersion {
		t.Fatalf("ReplicateModelVersion mismatch: got %q", cfg.ReplicateModelVersion)
	}
	if cfg.StorageDriver != StorageDriverFilesystem {
		t.Fatalf("StorageDriver mismatch: got %q", cfg.StorageDriver)
	}
	if cfg.HistoryEnabled() {
		t.Fatalf("history should be disabled without DATABASE_URL")
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigRejectsUnknownStorageDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "ftp")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestLoadConfigMinioRequiresEndpoint(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "minio")
	t.Setenv("MINIO_ENDPOINT", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for minio without endpoint")
	}
}

func TestLoadConfigReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upscaler.yaml")
	body := "session_capacity: 12\ncors_allowed_origins: \"https://a.example, https://b.example\"\nport: \"7000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("UPSCALER_CONFIG", path)
	t.Setenv("PORT", "7100")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SessionCapacity != 12 {
		t.Fatalf("SessionCapacity mismatch: got %d", cfg.SessionCapacity)
	}
	if cfg.Port != "7100" {
		t.Fatalf("env should override file: got port %q", cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORSAllowedOrigins mismatch: %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigPoolSizes(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "")
	t.Setenv("DB_MIN_CONNS", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DBMaxConns != 10 || cfg.DBMinConns != 1 {
		t.Fatalf("pool sizes = %d/%d, want 10/1", cfg.DBMaxConns, cfg.DBMinConns)
	}

	t.Setenv("DB_MAX_CONNS", "2")
	t.Setenv("DB_MIN_CONNS", "3")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DB_MIN_CONNS exceeds DB_MAX_CONNS")
	}
}

func TestSubmitWaitLimit(t *testing.T) {
	cfg := &Config{UpscaleTimeout: 60 * time.Second}
	if got := cfg.SubmitWaitLimit(); got != 65*time.Second {
		t.Fatalf("SubmitWaitLimit = %s", got)
	}
}
