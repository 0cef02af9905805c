package util

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		verbosity int
		want      string // tags that print, in call order
	}{
		{0, "ERR"},
		{1, "ERR WRN INF"},
		{2, "ERR WRN INF VRB"},
		{3, "ERR WRN INF VRB DBG"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := NewLogger(tt.verbosity)
		l.SetOutput(&buf)
		l.SetTimestamps(false)

		l.Error("e")
		l.Warn("w")
		l.Info("i")
		l.Verbose("v")
		l.Debug("d")

		var tags []string
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if len(line) > 4 {
				tags = append(tags, line[1:4])
			}
		}
		if got := strings.Join(tags, " "); got != tt.want {
			t.Errorf("verbosity %d printed %q, want %q", tt.verbosity, got, tt.want)
		}
	}
}

func TestLogger_Timestamps(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetTimestamps(true)

	l.Info("server listening on localhost:8667")

	re := regexp.MustCompile(`^\d\d:\d\d:\d\d\.\d{3} \[INF\] server listening`)
	if !re.MatchString(buf.String()) {
		t.Errorf("got %q", buf.String())
	}
	if NewLogger(3).sink.timestamps != true {
		t.Error("debug verbosity should enable timestamps")
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)

	l.Named("server").Named("conn#3").Info("closing")

	if got, want := buf.String(), "[INF] server/conn#3: closing\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// TestLogger_NamedSharesOutput verifies a child follows its parent's
// later SetOutput.
func TestLogger_NamedSharesOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&first)
	child := l.Named("relay")

	l.SetOutput(&second)
	child.Warn("upstream slow")

	if first.Len() != 0 {
		t.Errorf("child wrote to stale writer: %q", first.String())
	}
	if !strings.Contains(second.String(), "[WRN] relay: upstream slow") {
		t.Errorf("unexpected output %q", second.String())
	}
}

func TestBufPool(t *testing.T) {
	buf := GetBuf()
	if buf == nil || len(*buf) != DefaultBufSize {
		t.Fatalf("GetBuf = %v", buf)
	}
	PutBuf(buf)
	PutBuf(nil) // ignored

	again := GetBuf()
	if len(*again) != DefaultBufSize {
		t.Errorf("recycled buffer has %d bytes", len(*again))
	}
	PutBuf(again)
}
