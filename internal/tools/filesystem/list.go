package filesystem

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

func listFilesImpl(fileSys FileSystem, root, path string, recursive bool, maxDepth, limit int, ignorePatterns []string) (string, error) {
	dirPath, err := resolvePath(root, path)
	if err != nil {
		return "", err
	}

	var matcher *gitignore.GitIgnore
	if len(ignorePatterns) > 0 {
		matcher = gitignore.CompileIgnoreLines(ignorePatterns...)
	}

	shouldIgnore := func(relPath string) bool {
		if strings.Contains(relPath, ".git") {
			return true
		}
		return matcher != nil && matcher.MatchesPath(relPath)
	}

	files := make([]string, 0)
	truncated := false

	if recursive {
		err := fileSys.WalkDir(dirPath, func(walkPath string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			relFromRoot, relErr := filepath.Rel(root, walkPath)
			if relErr != nil {
				return nil
			}
			if shouldIgnore(relFromRoot) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if maxDepth >= 0 {
				if relFromStart, relErr := filepath.Rel(dirPath, walkPath); relErr == nil {
					if strings.Count(relFromStart, string(filepath.Separator)) > maxDepth {
						if d.IsDir() {
							return filepath.SkipDir
						}
						return nil
					}
				}
			}
			if walkPath == dirPath {
				return nil
			}
			files = append(files, relFromRoot)
			if len(files) >= limit {
				truncated = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	} else {
		entries, err := fileSys.ReadDir(dirPath)
		if err != nil {
			return "", err
		}
		for _, entry := range entries {
			name := entry.Name()
			if len(ignorePatterns) == 0 && strings.HasPrefix(name, ".") {
				continue
			}
			relPath := name
			if path != "" {
				relPath = filepath.Join(path, name)
			}
			if shouldIgnore(relPath) {
				continue
			}
			files = append(files, relPath)
			if len(files) >= limit {
				truncated = true
				break
			}
		}
	}

	result := map[string]any{
		"path":      path,
		"files":     files,
		"recursive": recursive,
		"truncated": truncated,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}

// NewListFilesTool returns the list_files tool. Ignore patterns use
// gitignore syntax; .git is always skipped.
func NewListFilesTool(root string) engine.Tool {
	fileSys := NewOSFileSystem()
	return engine.Tool{
		Name:        "list_files",
		Description: "Lists files under the working directory. Supports recursive listing, depth limits and gitignore-style ignore patterns.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Optional subdirectory relative to the working directory (empty for root)"},
			"recursive":{"type":"boolean","description":"List files recursively. Default: false"},
			"max_depth":{"type":"integer","description":"Maximum depth for recursive listing. Default: -1 (unlimited)"},
			"limit":{"type":"integer","description":"Maximum number of entries to return. Default: 1000"},
			"ignore_patterns":{"type":"array","items":{"type":"string"},"description":"gitignore-style patterns to skip. Default: ['.git','node_modules']"}
		},"required":[]}`,
		AlwaysAllow: true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path := ""
			if p, ok := args["path"].(string); ok {
				path = p
			}
			recursive := false
			if r, ok := args["recursive"].(bool); ok {
				recursive = r
			}
			maxDepth := -1
			if d, ok := args["max_depth"].(float64); ok {
				maxDepth = int(d)
			}
			limit := 1000
			if l, ok := args["limit"].(float64); ok && int(l) > 0 {
				limit = int(l)
			}
			var ignorePatterns []string
			if patterns, ok := args["ignore_patterns"].([]any); ok {
				for _, p := range patterns {
					if s, ok := p.(string); ok {
						ignorePatterns = append(ignorePatterns, s)
					}
				}
			}
			if len(ignorePatterns) == 0 {
				ignorePatterns = []string{".git", "node_modules"}
			}
			return listFilesImpl(fileSys, root, path, recursive, maxDepth, limit, ignorePatterns)
		},
	}
}
