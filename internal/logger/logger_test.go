package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatRFC3339Millis(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	got := formatRFC3339Millis(time.Date(2025, 6, 1, 15, 4, 5, 7_900_000, loc))
	if got != "2025-06-01T12:04:05.007Z" {
		t.Errorf("formatRFC3339Millis = %q", got)
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false, true)

	log.Debug("hidden")
	log.Info("cycle started", "cycle", 42, "wallet", "")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	if !strings.Contains(out, "cycle started") || !strings.Contains(out, "cycle=42") {
		t.Errorf("missing message or attribute: %q", out)
	}
	if strings.Contains(out, "wallet=") {
		t.Errorf("empty string attribute not dropped: %q", out)
	}
}

func TestNewWithWriter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, true, true).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug record missing: %q", buf.String())
	}
}
