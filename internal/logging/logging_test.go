package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"TRACE", zerolog.TraceLevel, true},
		{" frames ", zerolog.TraceLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:     "error",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
		EnvLogJSON:      "maybe",
	}
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg, func(k string) string { return env[k] })
	want := Config{Level: zerolog.ErrorLevel, Timestamp: false, NoColor: true, JSON: false}
	if cfg != want {
		t.Fatalf("ApplyEnv() = %+v, want %+v", cfg, want)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := Config{Level: zerolog.InfoLevel, JSON: true}.Logger(&buf)
	log.Debug().Msg("hidden")
	log.Info().Str("channel", "Virtual").Msg("opened")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug record written at info level")
	}
	if !strings.Contains(out, `"channel":"Virtual"`) || strings.Contains(out, `"time"`) {
		t.Fatalf("unexpected output %s", out)
	}

	buf.Reset()
	log = DefaultConfig(ProfileTest).Logger(&buf)
	log.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") || strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("test profile output %q", buf.String())
	}
}
