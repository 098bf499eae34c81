package filesystem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

func deleteFileImpl(fileSys FileSystem, root, path string) (string, error) {
	filePath, err := resolvePath(root, path)
	if err != nil {
		return "", err
	}
	if err := fileSys.Remove(filePath); err != nil {
		return "", fmt.Errorf("failed to delete file: %w", err)
	}

	result := map[string]any{
		"path":    path,
		"deleted": true,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}

// NewDeleteFileTool returns the delete_file tool. Destructive, so it
// always goes through the approval gate.
func NewDeleteFileTool(root string) engine.Tool {
	fileSys := NewOSFileSystem()
	return engine.Tool{
		Name:        "delete_file",
		Description: "Deletes a single file. Directories are not removed.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path to the file relative to the working directory"}},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, ok := args["path"].(string)
			if !ok {
				return "", fmt.Errorf("path must be a string")
			}
			return deleteFileImpl(fileSys, root, path)
		},
	}
}
