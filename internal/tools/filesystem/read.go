package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

// Large files are truncated rather than dumped wholesale into the
// conversation; the result reports how much was kept.
const maxReadLines = 2000

func readFileImpl(fileSys FileSystem, root, path string) (string, error) {
	filePath, err := resolvePath(root, path)
	if err != nil {
		return "", err
	}

	contentBytes, err := fileSys.ReadFile(filePath)
	if err != nil {
		return "", err
	}

	content := string(contentBytes)
	lines := strings.Split(content, "\n")
	lineCount := len(lines)

	truncated := false
	if lineCount > maxReadLines {
		content = strings.Join(lines[:maxReadLines], "\n")
		truncated = true
	}

	result := map[string]any{
		"path":       path,
		"content":    content,
		"line_count": lineCount,
		"truncated":  truncated,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}

// NewReadFileTool returns the read_file tool. Reading is side-effect free
// and auto-approved.
func NewReadFileTool(root string) engine.Tool {
	fileSys := NewOSFileSystem()
	return engine.Tool{
		Name:        "read_file",
		Description: "Reads the content of a file. Provide the path relative to the working directory.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path to the file relative to the working directory"}},"required":["path"]}`,
		AlwaysAllow: true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, ok := args["path"].(string)
			if !ok {
				return "", fmt.Errorf("path must be a string")
			}
			return readFileImpl(fileSys, root, path)
		},
	}
}
