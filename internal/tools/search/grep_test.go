package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/sandbox"
)

// MockRunner substitutes the sandbox in tests.
type MockRunner struct {
	RunCmdFunc func(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (sandbox.Result, error)
}

func (m *MockRunner) RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
	return m.RunCmdFunc(ctx, workDir, name, args, timeout)
}

func rgMatchLine(path string, line int, text string) string {
	return fmt.Sprintf(`{"type":"match","data":{"path":{"text":%q},"lines":{"text":%q},"line_number":%d}}`, path, text, line)
}

type grepResponse struct {
	Pattern string `json:"pattern"`
	Results []struct {
		Path    string `json:"path"`
		Line    int    `json:"line"`
		Content string `json:"content"`
	} `json:"results"`
	Count     int  `json:"count"`
	Truncated bool `json:"truncated"`
}

func decodeGrep(t *testing.T, raw string) grepResponse {
	t.Helper()
	var resp grepResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, raw)
	}
	return resp
}

func TestGrepParsesMatches(t *testing.T) {
	stdout := strings.Join([]string{
		`{"type":"begin","data":{}}`,
		rgMatchLine("main.go", 12, "\tfunc main() {\n"),
		rgMatchLine("util.go", 3, "func helper() {}\n"),
		`{"type":"end","data":{}}`,
	}, "\n")

	runner := &MockRunner{
		RunCmdFunc: func(_ context.Context, _ string, name string, args []string, _ time.Duration) (sandbox.Result, error) {
			if name != "rg" {
				t.Errorf("got command %q, want rg", name)
			}
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, "--json") || !strings.Contains(joined, "-e func") {
				t.Errorf("unexpected args: %v", args)
			}
			return sandbox.Result{Stdout: stdout}, nil
		},
	}

	raw, err := grepImpl(context.Background(), runner, "/work", "func", "", "", false)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	resp := decodeGrep(t, raw)
	if resp.Count != 2 {
		t.Fatalf("got %d matches, want 2", resp.Count)
	}
	if resp.Results[0].Path != "main.go" || resp.Results[0].Line != 12 {
		t.Errorf("first match = %+v", resp.Results[0])
	}
	if resp.Results[0].Content != "func main() {" {
		t.Errorf("content not trimmed: %q", resp.Results[0].Content)
	}
}

func TestGrepNoMatchesIsEmptyResult(t *testing.T) {
	runner := &MockRunner{
		RunCmdFunc: func(context.Context, string, string, []string, time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Code: 1}, errors.New("exit status 1")
		},
	}

	raw, err := grepImpl(context.Background(), runner, "/work", "nothing_matches_this", "", "", false)
	if err != nil {
		t.Fatalf("no-match case must not be an error: %v", err)
	}
	resp := decodeGrep(t, raw)
	if resp.Count != 0 || len(resp.Results) != 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestGrepRealFailureSurfaces(t *testing.T) {
	runner := &MockRunner{
		RunCmdFunc: func(context.Context, string, string, []string, time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Code: 2, Stderr: "regex parse error"}, errors.New("exit status 2")
		},
	}

	if _, err := grepImpl(context.Background(), runner, "/work", "(broken", "", "", false); err == nil {
		t.Fatal("expected error for rg failure")
	}
}

func TestGrepForwardsGlobsAndCase(t *testing.T) {
	var captured []string
	runner := &MockRunner{
		RunCmdFunc: func(_ context.Context, _ string, _ string, args []string, _ time.Duration) (sandbox.Result, error) {
			captured = args
			return sandbox.Result{}, nil
		},
	}

	if _, err := grepImpl(context.Background(), runner, "/work", "todo", "src", "*.go, *.md", true); err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	joined := strings.Join(captured, " ")
	for _, want := range []string{"-i", "-g *.go", "-g *.md", "-e todo", "src"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, captured)
		}
	}
}

func TestGrepTruncatesResults(t *testing.T) {
	var lines []string
	for i := 0; i < maxGrepResults+20; i++ {
		lines = append(lines, rgMatchLine("big.go", i+1, "match\n"))
	}
	runner := &MockRunner{
		RunCmdFunc: func(context.Context, string, string, []string, time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Stdout: strings.Join(lines, "\n")}, nil
		},
	}

	raw, err := grepImpl(context.Background(), runner, "/work", "match", "", "", false)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	resp := decodeGrep(t, raw)
	if resp.Count != maxGrepResults || !resp.Truncated {
		t.Errorf("count = %d truncated = %v, want %d/true", resp.Count, resp.Truncated, maxGrepResults)
	}
}
