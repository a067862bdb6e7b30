package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(INFO)
	})
	fn()
	return buf.String()
}

func TestLevelFiltering(t *testing.T) {
	got := capture(t, func() {
		SetLevel(WARN)
		InfoC("test", "should be filtered")
		WarnC("test", "should appear")
	})
	if strings.Contains(got, "should be filtered") {
		t.Error("info line must be filtered at WARN level")
	}
	if !strings.Contains(got, "should appear") {
		t.Error("warn line must pass at WARN level")
	}
}

func TestLineFormat(t *testing.T) {
	got := capture(t, func() {
		InfoC("transport", "Connected")
	})
	if !strings.Contains(got, "[INFO] [transport] Connected") {
		t.Errorf("line: got %q", got)
	}
}

func TestFieldsSorted(t *testing.T) {
	got := capture(t, func() {
		InfoCF("session", "Event", map[string]any{"zeta": 1, "alpha": 2})
	})
	alpha := strings.Index(got, "alpha=2")
	zeta := strings.Index(got, "zeta=1")
	if alpha == -1 || zeta == -1 || alpha > zeta {
		t.Errorf("fields must be sorted: got %q", got)
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	got := capture(t, func() {
		DebugC("test", "hidden")
	})
	if strings.Contains(got, "hidden") {
		t.Errorf("debug must be suppressed at default level: got %q", got)
	}
}
