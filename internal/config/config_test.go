package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLICYPRO_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address)
	}
	if cfg.ConflictMaxIterations != 50 || cfg.ConflictMaxRetries != 5 || cfg.ConflictBaseDelay != time.Second {
		t.Fatalf("unexpected conflict settings %+v", cfg)
	}
	if cfg.QueueMode != QueueAsynq {
		t.Fatalf("unexpected queue mode %q", cfg.QueueMode)
	}
	if !cfg.Allowed("application/pdf") {
		t.Fatalf("pdf should be allowed by default")
	}
}

func TestLoadEnvOverridesAndFallbacks(t *testing.T) {
	t.Setenv("POLICYPRO_CONFIG", "")
	t.Setenv("POLICYPRO_ADDRESS", ":9090")
	t.Setenv("POLICYPRO_WORKERS", "-3")
	t.Setenv("POLICYPRO_QUEUE_MODE", "INLINE")
	t.Setenv("POLICYPRO_CONFLICT_BASE_DELAY", "250ms")
	t.Setenv("POLICYPRO_ALLOWED_TYPES", "application/pdf, text/plain")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9090" {
		t.Fatalf("env override ignored: %q", cfg.Address)
	}
	if cfg.ProcessingPool != defaultWorkerCount {
		t.Fatalf("expected fallback worker count, got %d", cfg.ProcessingPool)
	}
	if cfg.QueueMode != QueueInline {
		t.Fatalf("expected inline mode, got %q", cfg.QueueMode)
	}
	if cfg.ConflictBaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected base delay %s", cfg.ConflictBaseDelay)
	}
	if !cfg.Allowed("text/plain; charset=utf-8") || cfg.Allowed("image/png") {
		t.Fatalf("allowed types not honoured: %v", cfg.AllowedTypes)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policypro.yaml")
	body := "raster_dpi: 200\nmeili_url: http://search:7700\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLICYPRO_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RasterDPI != 200 || cfg.MeiliURL != "http://search:7700" {
		t.Fatalf("file values ignored: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("POLICYPRO_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
