package sandbox

import (
	"bytes"
	"testing"
)

func logFrame(stream byte, payload string) []byte {
	size := len(payload)
	frame := []byte{stream, 0, 0, 0, byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	return append(frame, payload...)
}

func TestParseDockerLogs(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(logFrame(1, "hello from stdout\n"))
	buf.Write(logFrame(2, "warning on stderr\n"))
	buf.Write(logFrame(1, "second line\n"))

	stdout, stderr := parseDockerLogs(&buf)
	if stdout != "hello from stdout\nsecond line" {
		t.Errorf("stdout = %q", stdout)
	}
	if stderr != "warning on stderr" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestParseDockerLogsEmptyStream(t *testing.T) {
	stdout, stderr := parseDockerLogs(bytes.NewReader(nil))
	if stdout != "" || stderr != "" {
		t.Errorf("got %q/%q, want empty", stdout, stderr)
	}
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1g", 1024 * 1024 * 1024},
		{"512m", 512 * 1024 * 1024},
		{"64k", 64 * 1024},
		{"2048", 2048},
		{"", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		if got := parseMemory(tt.in); got != tt.want {
			t.Errorf("parseMemory(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseCPU(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"2", 2},
		{"4", 4},
		{"1.5", 1},
		{"", 2},
		{"-1", 2},
	}
	for _, tt := range tests {
		if got := parseCPU(tt.in); got != tt.want {
			t.Errorf("parseCPU(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
