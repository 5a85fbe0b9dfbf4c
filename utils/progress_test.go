package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunProgress_Finish(t *testing.T) {
	progress := NewRunProgress()
	start := progress.startTime
	progress.now = func() time.Time { return start.Add(1500 * time.Millisecond) }

	progress.Matched()
	progress.Matched()
	progress.Matched()
	progress.Skipped()
	progress.Registered()
	progress.Warned()

	var buf bytes.Buffer
	summary := progress.Finish(zerolog.New(&buf))

	expected := RunSummary{Matched: 3, Skipped: 1, Registered: 1, Warned: 1, Elapsed: 1500 * time.Millisecond}
	if summary != expected {
		t.Errorf("Finish() = %+v, want %+v", summary, expected)
	}

	output := buf.String()
	for _, want := range []string{`"matched":3`, `"registered":1`, `"message":"auto-reserve run finished"`} {
		if !strings.Contains(output, want) {
			t.Errorf("log output %s missing %s", output, want)
		}
	}
}

func TestRunProgress_QuietLogger(t *testing.T) {
	progress := NewRunProgress()
	progress.Registered()

	var buf bytes.Buffer
	summary := progress.Finish(zerolog.New(&buf).Level(zerolog.WarnLevel))

	if summary.Registered != 1 {
		t.Errorf("Registered = %d", summary.Registered)
	}
	if buf.Len() != 0 {
		t.Errorf("info summary should be filtered at warn level, got %s", buf.String())
	}
}
