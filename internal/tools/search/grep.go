// Package search provides the code and history search tools.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/tools/execution"
)

const maxGrepResults = 100

// grepImpl shells out to ripgrep with --json and flattens its per-line
// JSON stream into match records.
func grepImpl(ctx context.Context, runner execution.Runner, workDir, pattern, path, globs string, caseInsensitive bool) (string, error) {
	args := []string{"--json"}
	if caseInsensitive {
		args = append(args, "-i")
	}
	if globs != "" {
		for _, part := range strings.Split(globs, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				args = append(args, "-g", trimmed)
			}
		}
	}
	args = append(args, "-e", pattern)
	if path != "" {
		args = append(args, path)
	} else {
		args = append(args, ".")
	}

	res, err := runner.RunCmd(ctx, workDir, "rg", args, 10*time.Second)
	if err != nil {
		// rg exits 1 on no matches.
		if res.Code == 1 {
			return fmt.Sprintf(`{"pattern": %q, "results": [], "count": 0}`, pattern), nil
		}
		return "", fmt.Errorf("grep failed: %v, stderr: %s", err, res.Stderr)
	}

	type rgMessage struct {
		Type string `json:"type"`
		Data struct {
			Path struct {
				Text string `json:"text"`
			} `json:"path"`
			Lines struct {
				Text string `json:"text"`
			} `json:"lines"`
			LineNumber int `json:"line_number"`
		} `json:"data"`
	}

	type grepMatch struct {
		Path    string `json:"path"`
		Line    int    `json:"line"`
		Content string `json:"content"`
	}

	results := make([]grepMatch, 0)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		var msg rgMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type != "match" {
			continue
		}
		results = append(results, grepMatch{
			Path:    msg.Data.Path.Text,
			Line:    msg.Data.LineNumber,
			Content: strings.TrimSpace(msg.Data.Lines.Text),
		})
	}

	truncated := false
	if len(results) > maxGrepResults {
		results = results[:maxGrepResults]
		truncated = true
	}

	response := map[string]any{
		"pattern":   pattern,
		"results":   results,
		"count":     len(results),
		"truncated": truncated,
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	return string(responseJSON), nil
}

// NewGrepTool returns the grep tool, backed by ripgrep through the
// sandbox runner.
func NewGrepTool(workDir string) engine.Tool {
	runner := execution.NewSandboxRunner()
	return engine.Tool{
		Name:        "grep",
		Description: "Regex search over the working directory using ripgrep. Supports case-insensitive matching and comma-separated glob filters.",
		SchemaJSON:  `{"type":"object","properties":{"pattern":{"type":"string","description":"Regex pattern to search for"},"path":{"type":"string","description":"Optional file or directory to search in"},"globs":{"type":"string","description":"Optional comma-separated file patterns"},"case_insensitive":{"type":"boolean","description":"Case-insensitive search"}},"required":["pattern"]}`,
		AlwaysAllow: true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			pattern, ok := args["pattern"].(string)
			if !ok {
				return "", fmt.Errorf("pattern must be a string")
			}
			path := ""
			if p, ok := args["path"].(string); ok {
				path = p
			}
			globs := ""
			if g, ok := args["globs"].(string); ok {
				globs = g
			}
			caseInsensitive := false
			if ci, ok := args["case_insensitive"].(bool); ok {
				caseInsensitive = ci
			}
			return grepImpl(ctx, runner, workDir, pattern, path, globs, caseInsensitive)
		},
	}
}
