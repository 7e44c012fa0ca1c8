package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer Init("info", false)

	WithComponent("uploader").Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "uploader" {
		t.Errorf("Expected component=uploader, got %v", entry["component"])
	}
	if entry["message"] != "hello" {
		t.Errorf("Expected message=hello, got %v", entry["message"])
	}
}
