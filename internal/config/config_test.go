package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/kefexcan"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "kefextool.toml", `
channel = "SLCAN"
port = " /dev/ttyACM0 "
bitrate = 250

[kefex]
base_id = 0x640
server_address = 5
timeout = "1s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Defaults()
	want.Channel = "SLCAN"
	want.Port = "/dev/ttyACM0"
	want.Bitrate = 250
	want.KEFEX.BaseID = 0x640
	want.KEFEX.ServerAddress = 5
	want.KEFEX.Timeout = time.Second
	if cfg != want {
		t.Fatalf("Load() = %+v, want %+v", cfg, want)
	}
	if id := cfg.KEFEX.Config().RequestID(); id != 0x642 {
		t.Fatalf("request id 0x%X, want 0x642", id)
	}
	if cc := cfg.ChannelConfig(); cc.Path != "/dev/ttyACM0" || cc.Bitrate != 250 || cc.OpenAttempts != 3 {
		t.Fatalf("ChannelConfig() = %+v", cc)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `channel = `},
		{"unknown key", `chanel = "SLCAN"`},
		{"bad timeout", "[kefex]\ntimeout = \"soon\""},
		{"zero bitrate", `bitrate = 0`},
		{"base beyond 11 bit", "[kefex]\nbase_id = 0x800"},
		{"zero block size", "[kefex]\nblock_size = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.toml", tt.content))
			if !errors.Is(err, kefexcan.ErrConfiguration) {
				t.Fatalf("Load() = %v, want ErrConfiguration", err)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, kefexcan.ErrConfiguration) {
		t.Fatalf("Load() missing file = %v", err)
	}
}
