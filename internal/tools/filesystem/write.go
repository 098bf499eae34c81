package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

func writeFileImpl(fileSys FileSystem, root, path, content string) (string, error) {
	filePath, err := resolvePath(root, path)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(filePath)
	if err := fileSys.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := fileSys.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	result := map[string]any{
		"path":    path,
		"bytes":   len(content),
		"success": true,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}

// NewWriteFileTool returns the write_file tool. Writing mutates the
// working tree, so it always goes through the approval gate.
func NewWriteFileTool(root string) engine.Tool {
	fileSys := NewOSFileSystem()
	return engine.Tool{
		Name:        "write_file",
		Description: "Writes content to a file, creating it and any parent directories if needed. Overwrites existing content.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path to the file relative to the working directory"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, ok := args["path"].(string)
			if !ok {
				return "", fmt.Errorf("path must be a string")
			}
			content, ok := args["content"].(string)
			if !ok {
				return "", fmt.Errorf("content must be a string")
			}
			return writeFileImpl(fileSys, root, path, content)
		},
	}
}
