package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("Expected level %d, got %d", tt.want, got)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: WarnLevel, Writer: &buf, NoColor: true})

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN  shown") {
		t.Errorf("Expected warn line, got %q", out)
	}
}

func TestFieldsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: DebugLevel, Writer: &buf, NoColor: true})

	child := l.WithPrefix("engine").WithFields(map[string]interface{}{"drone": "d1", "phase": "EN_ROUTE"})
	child.Debugf("tick %d", 3)

	out := strings.TrimSpace(buf.String())
	want := "DEBUG [engine] drone=d1 phase=EN_ROUTE tick 3"
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}
}

func TestChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: InfoLevel, Writer: &buf, NoColor: true})
	child := l.WithField("k", "v")

	l.(*logger).sink.level = ErrorLevel
	child.Info("dropped")

	if buf.Len() != 0 {
		t.Errorf("Expected child to follow parent level, got %q", buf.String())
	}
}

func TestFileCopyIsPlain(t *testing.T) {
	var console, file bytes.Buffer
	l := NewWithConfig(Config{Level: InfoLevel, Writer: &console, File: &file})

	l.Error("boom")

	if !strings.Contains(file.String(), "ERROR boom") {
		t.Errorf("Expected plain copy in file sink, got %q", file.String())
	}
	if strings.Contains(file.String(), "\x1b[") {
		t.Errorf("Expected no escape codes in file sink, got %q", file.String())
	}
}

func TestTableFprint(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable("DRONE", "PHASE")
	tbl.AddRow("d-1", "EN_ROUTE")
	tbl.AddRow("drone-22", "LANDED")
	tbl.Fprint(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[3], "drone-22  LANDED") {
		t.Errorf("Unexpected row formatting: %q", lines[3])
	}
}
