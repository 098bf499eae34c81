package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestImageForDetectsProjectType(t *testing.T) {
	tests := []struct {
		manifest string
		want     string
	}{
		{"go.mod", "golang:alpine"},
		{"package.json", "node:alpine"},
		{"pyproject.toml", "python:alpine"},
		{"requirements.txt", "python:alpine"},
		{"Cargo.toml", "rust:alpine"},
		{"", "alpine:latest"},
	}
	for _, tt := range tests {
		name := tt.manifest
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.manifest != "" {
				if err := os.WriteFile(filepath.Join(dir, tt.manifest), []byte("x"), 0644); err != nil {
					t.Fatalf("write failed: %v", err)
				}
			}
			if got := imageFor(dir, Config{}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImageForHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := imageFor(dir, Config{DockerImage: "custom:tag"}); got != "custom:tag" {
		t.Errorf("got %q, want custom:tag", got)
	}
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("KEA_SANDBOX_MODE", "host")
	t.Setenv("KEA_CMD_TIMEOUT", "90s")
	t.Setenv("KEA_DOCKER_CPU", "4")
	t.Setenv("KEA_DOCKER_MEMORY", "2g")

	cfg := DefaultConfig()
	if cfg.Mode != ModeHost {
		t.Errorf("mode = %s, want host", cfg.Mode)
	}
	if cfg.CmdTimeout.Seconds() != 90 {
		t.Errorf("timeout = %s, want 90s", cfg.CmdTimeout)
	}
	if cfg.CPU != "4" || cfg.Memory != "2g" {
		t.Errorf("limits = %s/%s", cfg.CPU, cfg.Memory)
	}
}

func TestDefaultConfigBadValuesFallBack(t *testing.T) {
	t.Setenv("KEA_SANDBOX_MODE", "bogus")
	t.Setenv("KEA_CMD_TIMEOUT", "not-a-duration")

	cfg := DefaultConfig()
	if cfg.Mode != ModeAuto {
		t.Errorf("mode = %s, want auto", cfg.Mode)
	}
	if cfg.CmdTimeout.Minutes() != 2 {
		t.Errorf("timeout = %s, want 2m", cfg.CmdTimeout)
	}
}
