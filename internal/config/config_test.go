package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
	if cfg.Segmentation.CanonicalSize != 1024 {
		t.Errorf("Expected canonical size 1024, got %d", cfg.Segmentation.CanonicalSize)
	}
	if cfg.Vision.Backend != "ollama" {
		t.Errorf("Expected default backend ollama, got %q", cfg.Vision.Backend)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tiny canvas", func(c *Config) { c.Segmentation.CanonicalSize = 32 }, "canonical_size"},
		{"threshold range", func(c *Config) { c.Segmentation.MaskThreshold = 300 }, "mask_threshold"},
		{"scale order", func(c *Config) { c.Placement.MinScale = 3.0 }, "min_scale"},
		{"rotation range", func(c *Config) { c.Placement.MaxRotation = 180 }, "max_rotation"},
		{"band order", func(c *Config) { c.Placement.NecklaceBandMin = 0.9 }, "necklace_band"},
		{"tolerance range", func(c *Config) { c.Validation.Tolerance = 1.5 }, "tolerance"},
		{"comparison size", func(c *Config) { c.Validation.ComparisonSize = 4 }, "comparison_size"},
		{"unknown backend", func(c *Config) { c.Vision.Backend = "gemini" }, "vision.backend"},
		{"zero timeout", func(c *Config) { c.Vision.RequestTimeout = 0 }, "request_timeout"},
		{"unknown log mode", func(c *Config) { c.Logging.Mode = "verbose" }, "logging.mode"},
		{"unknown format", func(c *Config) { c.Output.DefaultFormat = "tiff" }, "default_format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error naming %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "vision:\n  backend: llamacpp\n  url: http://gpu-box:8080\nvalidation:\n  tolerance: 0.05\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Vision.Backend != "llamacpp" {
		t.Errorf("Expected backend from file, got %q", cfg.Vision.Backend)
	}
	if cfg.Validation.Tolerance != 0.05 {
		t.Errorf("Expected tolerance from file, got %f", cfg.Validation.Tolerance)
	}
	if cfg.Segmentation.CanonicalSize != 1024 {
		t.Errorf("Expected default canonical size for unset key, got %d", cfg.Segmentation.CanonicalSize)
	}
	if cfg.Vision.RequestTimeout != 300*time.Second {
		t.Errorf("Expected default timeout, got %v", cfg.Vision.RequestTimeout)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("validation:\n  tolerance: 9.0\n"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected out-of-range tolerance rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  mode: production\n"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	t.Setenv("JEWELRY_TRYON_LOGGING_MODE", "development")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Mode != "development" {
		t.Errorf("Expected env override, got %q", cfg.Logging.Mode)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written defaults failed: %v", err)
	}
	if cfg.Placement.NecklaceBandMax != 0.75 {
		t.Errorf("Expected defaults round-tripped, got band max %f", cfg.Placement.NecklaceBandMax)
	}
	if cfg.Output.Suffix != "_tryon" {
		t.Errorf("Expected output suffix round-tripped, got %q", cfg.Output.Suffix)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if !strings.Contains(path, "jewelry-tryon") {
		t.Errorf("Expected app-scoped config path, got %q", path)
	}
	if !strings.HasSuffix(path, "config.yaml") {
		t.Errorf("Expected yaml config file, got %q", path)
	}
}
