package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger_UsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Writer: &buf, Component: "timeline"})
	lg.Debug("boot", "k", "v")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "DEBUG" || lines[0][KeyComponent] != "timeline" {
		t.Fatalf("unexpected log output %v", lines)
	}
}

func TestNewLogger_UnknownLevelLogsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "loud", Writer: &buf})
	lg.Debug("hidden")
	lg.Info("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Fatalf("expected only the info line, got %v", lines)
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := []struct {
		in, fallback, want string
	}{
		{"DEBUG", "info", "debug"},
		{" warning ", "info", "warn"},
		{"error", "info", "error"},
		{"", "warn", "warn"},
		{"verbose", "info", "info"},
	}
	for _, tc := range cases {
		if got := NormalizeLevel(tc.in, tc.fallback); got != tc.want {
			t.Fatalf("NormalizeLevel(%q, %q): want %q, got %q", tc.in, tc.fallback, tc.want, got)
		}
	}
}

func TestForMutation_AttachesOperationAttrs(t *testing.T) {
	var buf bytes.Buffer
	lg := ForMutation(NewLogger(Options{Writer: &buf}), "close_interval", "alice")
	lg.Info("mutation rejected", Code("invariant_violation"), Err(errors.New("interval already closed")))
	lg.Error("mutation failed", Err(nil))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	first := lines[0]
	if first[KeyOp] != "close_interval" || first[KeyActor] != "alice" {
		t.Fatalf("missing operation attrs: %v", first)
	}
	if first[KeyCode] != "invariant_violation" || first[KeyErr] != "interval already closed" {
		t.Fatalf("missing rejection attrs: %v", first)
	}
	if lines[1][KeyOp] != "close_interval" || lines[1][KeyErr] != "" {
		t.Fatalf("unexpected second line: %v", lines[1])
	}
}
