package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LogInfo)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("failed %s", "badly")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug line should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "INFO: shown 2") {
		t.Errorf("Expected info line, got %q", out)
	}
	if !strings.Contains(out, "ERROR: failed badly") {
		t.Errorf("Expected error line, got %q", out)
	}

	l.SetLogLevel(LogDebug)
	if l.GetLogLevel() != LogDebug {
		t.Errorf("Expected debug level after SetLogLevel")
	}
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "DEBUG: now visible") {
		t.Errorf("Expected debug line after lowering level")
	}
}

func TestOrNull(t *testing.T) {
	if _, ok := OrNull(nil).(*NullLogger); !ok {
		t.Errorf("Expected NullLogger for nil input")
	}
	l := NewStdOutLogger(LogError)
	if OrNull(l) != l {
		t.Errorf("Expected the given logger to be returned")
	}
}
