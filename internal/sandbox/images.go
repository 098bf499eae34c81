package sandbox

import (
	"os"
	"path/filepath"
)

// imageFor picks a Docker image for the working directory by detecting
// the project type from its manifest files. A custom image from config
// takes precedence.
func imageFor(workDir string, config Config) string {
	if config.DockerImage != "" {
		return config.DockerImage
	}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(workDir, name))
		return err == nil
	}

	switch {
	case exists("go.mod"):
		return "golang:alpine"
	case exists("package.json"):
		return "node:alpine"
	case exists("pyproject.toml"), exists("requirements.txt"):
		return "python:alpine"
	case exists("Cargo.toml"):
		return "rust:alpine"
	default:
		return "alpine:latest"
	}
}
