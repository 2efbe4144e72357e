package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warning", WARN, false},
		{"error", ERROR, false},
		{"none", SILENT, false},
		{"", INFO, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if WARN.String() != "WARN" || LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("String() = %q, %q", WARN.String(), LogLevel(42).String())
	}
}

func fixedLogger(level LogLevel, color bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(level, &buf, color)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 123456000, time.UTC) }
	return l, &buf
}

func TestLineFormat(t *testing.T) {
	l, buf := fixedLogger(INFO, false)
	l.Info("Engine", "reset after %d frames\n", 12)
	l.Warn("", "no module")

	want := "2026/01/02 15:04:05.123456 [INFO] [Engine] reset after 12 frames\n" +
		"2026/01/02 15:04:05.123456 [WARN] no module\n"
	if buf.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	l, buf := fixedLogger(WARN, false)

	l.Info("Engine", "dropped %d", 1)
	l.Warn("Engine", "kept %d", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Engine] kept 2") {
		t.Errorf("warn message missing or malformed: %q", out)
	}

	l.SetLevel(DEBUG)
	if !l.Enabled(DEBUG) || l.GetLevel() != DEBUG {
		t.Error("SetLevel(DEBUG) not applied")
	}
}

func TestLoggerSilent(t *testing.T) {
	l, buf := fixedLogger(SILENT, false)
	l.Error("Engine", "boom")
	if buf.Len() != 0 {
		t.Errorf("silent logger wrote %q", buf.String())
	}
	if l.Enabled(SILENT) {
		t.Error("SILENT reported as a writable level")
	}
}

func TestLoggerColor(t *testing.T) {
	l, buf := fixedLogger(DEBUG, true)
	l.Debug("", "hello")
	want := levels[DEBUG].color + "[DEBUG]" + resetColor + " hello"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("colored output = %q", buf.String())
	}
}
