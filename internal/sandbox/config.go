package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Mode selects the sandbox execution backend.
type Mode string

const (
	// ModeDocker isolates commands in Docker containers.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host, without isolation.
	ModeHost Mode = "host"
	// ModeAuto uses Docker when available and falls back to host.
	ModeAuto Mode = "auto"
)

// Config holds sandbox execution settings.
type Config struct {
	Mode        Mode
	DockerImage string        // custom image override
	CPU         string        // CPU limit, e.g. "2"
	Memory      string        // memory limit, e.g. "1g"
	CmdTimeout  time.Duration // default command timeout (0 = built-in default)
}

// DefaultConfig reads sandbox settings from the environment.
func DefaultConfig() Config {
	modeStr := strings.ToLower(os.Getenv("KEA_SANDBOX_MODE"))
	if modeStr == "" {
		modeStr = "auto"
	}

	var mode Mode
	switch modeStr {
	case "docker":
		mode = ModeDocker
	case "host":
		mode = ModeHost
	case "auto":
		mode = ModeAuto
	default:
		log.Printf("WARNING: unknown KEA_SANDBOX_MODE %q, defaulting to auto", modeStr)
		mode = ModeAuto
	}

	cmdTimeout := 2 * time.Minute
	if timeoutStr := os.Getenv("KEA_CMD_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			cmdTimeout = d
		} else {
			log.Printf("WARNING: invalid KEA_CMD_TIMEOUT %q, using default 2m", timeoutStr)
		}
	}

	return Config{
		Mode:        mode,
		DockerImage: os.Getenv("KEA_DOCKER_IMAGE"),
		CPU:         getEnvOrDefault("KEA_DOCKER_CPU", "2"),
		Memory:      getEnvOrDefault("KEA_DOCKER_MEMORY", "1g"),
		CmdTimeout:  cmdTimeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// IsDockerAvailable reports whether the Docker daemon is reachable.
func IsDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// NewDefaultRunner creates a runner from the environment config,
// honoring KEA_SANDBOX_MODE and falling back to host execution when
// Docker is requested but unusable.
func NewDefaultRunner() Runner {
	config := DefaultConfig()
	ctx := context.Background()

	switch config.Mode {
	case ModeDocker:
		if !IsDockerAvailable(ctx) {
			log.Printf("WARNING: Docker mode requested but Docker is not available, falling back to host execution")
			return &HostRunner{config: config}
		}
		dockerRunner, err := NewDockerRunner(config)
		if err != nil {
			log.Printf("WARNING: failed to create Docker runner: %v, falling back to host execution", err)
			return &HostRunner{config: config}
		}
		return dockerRunner

	case ModeHost:
		log.Printf("WARNING: using host execution (no sandboxing)")
		return &HostRunner{config: config}

	case ModeAuto:
		if IsDockerAvailable(ctx) {
			dockerRunner, err := NewDockerRunner(config)
			if err != nil {
				log.Printf("WARNING: Docker available but runner creation failed: %v, falling back to host execution", err)
				return &HostRunner{config: config}
			}
			return dockerRunner
		}
		log.Printf("WARNING: Docker not available, using host execution (no sandboxing)")
		return &HostRunner{config: config}

	default:
		return &HostRunner{config: config}
	}
}

// NewRunner creates a specific runner implementation.
func NewRunner(mode Mode, config Config) (Runner, error) {
	switch mode {
	case ModeDocker:
		return NewDockerRunner(config)
	case ModeHost:
		return &HostRunner{config: config}, nil
	default:
		return nil, fmt.Errorf("unknown runner mode: %s", mode)
	}
}
