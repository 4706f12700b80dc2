// Package config loads the settings of the kefexcan tools.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/kefex"
)

// Settings is the tool configuration, read from TOML and the command line.
type Settings struct {
	Channel      string
	Port         string
	PortBaudrate int
	Bitrate      uint32
	OpenAttempts uint
	LogLevel     string
	KEFEX        KEFEXSettings
}

type KEFEXSettings struct {
	BaseID        uint32
	ClientAddress uint8
	ServerAddress uint8
	Timeout       time.Duration
	BlockSize     uint8
	STMin         uint8
}

func Defaults() Settings {
	return Settings{
		Channel:      "Virtual",
		PortBaudrate: 115200,
		Bitrate:      500,
		OpenAttempts: 3,
		LogLevel:     "info",
		KEFEX: KEFEXSettings{
			BaseID:        0x600,
			ClientAddress: 1,
			ServerAddress: 2,
			Timeout:       kefex.DefaultTimeout,
			BlockSize:     16,
		},
	}
}

// Config returns the protocol driver configuration.
func (k KEFEXSettings) Config() kefex.Config {
	return kefex.Config{
		BaseID:        k.BaseID,
		ClientAddress: k.ClientAddress,
		ServerAddress: k.ServerAddress,
	}
}

type fileConfig struct {
	Channel      string    `toml:"channel"`
	Port         string    `toml:"port"`
	PortBaudrate int       `toml:"port_baudrate"`
	Bitrate      uint32    `toml:"bitrate"`
	OpenAttempts uint      `toml:"open_attempts"`
	LogLevel     string    `toml:"log_level"`
	KEFEX        fileKEFEX `toml:"kefex"`
}

type fileKEFEX struct {
	BaseID        uint32 `toml:"base_id"`
	ClientAddress uint8  `toml:"client_address"`
	ServerAddress uint8  `toml:"server_address"`
	Timeout       string `toml:"timeout"`
	BlockSize     uint8  `toml:"block_size"`
	STMin         uint8  `toml:"st_min"`
}

// Load overlays the keys defined in the TOML file at path onto Defaults.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: load settings: %v", kefexcan.ErrConfiguration, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("%w: unknown settings key %q", kefexcan.ErrConfiguration, undecoded[0].String())
	}

	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("port_baudrate") {
		cfg.PortBaudrate = raw.PortBaudrate
	}
	if meta.IsDefined("bitrate") {
		cfg.Bitrate = raw.Bitrate
	}
	if meta.IsDefined("open_attempts") {
		cfg.OpenAttempts = raw.OpenAttempts
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("kefex", "base_id") {
		cfg.KEFEX.BaseID = raw.KEFEX.BaseID
	}
	if meta.IsDefined("kefex", "client_address") {
		cfg.KEFEX.ClientAddress = raw.KEFEX.ClientAddress
	}
	if meta.IsDefined("kefex", "server_address") {
		cfg.KEFEX.ServerAddress = raw.KEFEX.ServerAddress
	}
	if meta.IsDefined("kefex", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.KEFEX.Timeout))
		if err != nil {
			return Settings{}, fmt.Errorf("%w: parse kefex.timeout: %v", kefexcan.ErrConfiguration, err)
		}
		cfg.KEFEX.Timeout = d
	}
	if meta.IsDefined("kefex", "block_size") {
		cfg.KEFEX.BlockSize = raw.KEFEX.BlockSize
	}
	if meta.IsDefined("kefex", "st_min") {
		cfg.KEFEX.STMin = raw.KEFEX.STMin
	}

	return cfg, cfg.Validate()
}

func (s Settings) Validate() error {
	if s.Channel == "" {
		return fmt.Errorf("%w: no channel selected", kefexcan.ErrConfiguration)
	}
	if s.Bitrate == 0 {
		return fmt.Errorf("%w: bitrate must be set", kefexcan.ErrConfiguration)
	}
	if s.KEFEX.Timeout <= 0 {
		return fmt.Errorf("%w: kefex timeout must be positive", kefexcan.ErrConfiguration)
	}
	if s.KEFEX.BlockSize == 0 {
		return fmt.Errorf("%w: kefex block size must be positive", kefexcan.ErrConfiguration)
	}
	return s.KEFEX.Config().Validate()
}

// ChannelConfig returns the frame channel configuration for s.
func (s Settings) ChannelConfig() *kefexcan.ChannelConfig {
	return &kefexcan.ChannelConfig{
		Path:         s.Port,
		PortBaudrate: s.PortBaudrate,
		Bitrate:      s.Bitrate,
		OpenAttempts: s.OpenAttempts,
	}
}
