package kefexcan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// Channel is the single frame read/send primitive of a CAN adapter.
// At most one ReadOneFrame call is outstanding at any time.
type Channel interface {
	Name() string
	Open(path string) error
	// Init starts the bus at bitrate kbit/s.
	Init(bitrate uint32) error
	// ReadOneFrame returns ErrNoData when no frame is pending.
	ReadOneFrame() (RxFrame, error)
	SendOneFrame(TxFrame) error
	Close() error
	Capabilities() Capabilities
}

// Capabilities is the set of optional features a Channel reports.
type Capabilities uint32

const (
	CapExtendedID Capabilities = 1 << iota
	CapRTR
	CapTimestamps
	CapBusStatus
	CapVersion
)

func (c Capabilities) Has(other Capabilities) bool {
	return c&other == other
}

func (c Capabilities) String() string {
	names := []struct {
		c    Capabilities
		name string
	}{
		{CapExtendedID, "extended"},
		{CapRTR, "rtr"},
		{CapTimestamps, "timestamps"},
		{CapBusStatus, "busstatus"},
		{CapVersion, "version"},
	}
	var out []string
	for _, n := range names {
		if c.Has(n.c) {
			out = append(out, n.name)
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ",")
}

type BusStatus struct {
	BusOff       bool
	ErrorPassive bool
	RXErrors     uint8
	TXErrors     uint8
}

// BusStatusReader is implemented by channels reporting CapBusStatus.
type BusStatusReader interface {
	BusStatus() (BusStatus, error)
}

// VersionReader is implemented by channels reporting CapVersion.
type VersionReader interface {
	Version() (string, error)
}

// HasCapability reports whether ch advertises c and implements the matching
// optional interface.
func HasCapability(ch Channel, c Capabilities) bool {
	if !ch.Capabilities().Has(c) {
		return false
	}
	switch c {
	case CapBusStatus:
		_, ok := ch.(BusStatusReader)
		return ok
	case CapVersion:
		_, ok := ch.(VersionReader)
		return ok
	}
	return true
}

// BusStatusOf queries the bus status of ch if it supports it.
func BusStatusOf(ch Channel) (BusStatus, error) {
	if r, ok := ch.(BusStatusReader); ok && ch.Capabilities().Has(CapBusStatus) {
		return r.BusStatus()
	}
	return BusStatus{}, fmt.Errorf("%w: %s does not report bus status", ErrNotFound, ch.Name())
}

// VersionOf queries the driver version of ch if it supports it.
func VersionOf(ch Channel) (string, error) {
	if r, ok := ch.(VersionReader); ok && ch.Capabilities().Has(CapVersion) {
		return r.Version()
	}
	return "", fmt.Errorf("%w: %s does not report a version", ErrNotFound, ch.Name())
}

type ChannelConfig struct {
	Debug        bool
	Path         string
	PortBaudrate int
	Bitrate      uint32
	OpenAttempts uint
	OpenDelay    time.Duration
	Logger       zerolog.Logger
}

type ChannelInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	Capabilities       Capabilities
	New                func(*ChannelConfig) (Channel, error)
}

func (c *ChannelInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v, capabilities: %s", c.Name, c.Description, c.RequiresSerialPort, c.Capabilities)
}

var (
	channelMu  sync.RWMutex
	channelMap = make(map[string]*ChannelInfo)
)

func RegisterChannel(info *ChannelInfo) error {
	channelMu.Lock()
	defer channelMu.Unlock()
	key := strings.ToLower(info.Name)
	if _, found := channelMap[key]; found {
		return fmt.Errorf("channel %s already registered", info.Name)
	}
	channelMap[key] = info
	return nil
}

func NewChannel(name string, cfg *ChannelConfig) (Channel, error) {
	channelMu.RLock()
	info, found := channelMap[strings.ToLower(name)]
	channelMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrNotFound, name)
	}
	return info.New(cfg)
}

func ListChannelNames() []string {
	channelMu.RLock()
	defer channelMu.RUnlock()
	var out []string
	for _, info := range channelMap {
		out = append(out, info.Name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListChannels() []ChannelInfo {
	channelMu.RLock()
	defer channelMu.RUnlock()
	var out []ChannelInfo
	for _, info := range channelMap {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// OpenChannel creates the named channel, opens cfg.Path and starts the bus
// at cfg.Bitrate. Open and init are retried cfg.OpenAttempts times.
func OpenChannel(name string, cfg *ChannelConfig) (Channel, error) {
	ch, err := NewChannel(name, cfg)
	if err != nil {
		return nil, err
	}
	attempts := cfg.OpenAttempts
	if attempts == 0 {
		attempts = 1
	}
	delay := cfg.OpenDelay
	if delay == 0 {
		delay = 100 * time.Millisecond
	}
	err = retry.Do(
		func() error {
			if err := ch.Open(cfg.Path); err != nil {
				return err
			}
			if err := ch.Init(cfg.Bitrate); err != nil {
				ch.Close()
				return err
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			cfg.Logger.Warn().Str("channel", name).Uint("attempt", n+1).Err(err).Msg("open failed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s %q: %v", ErrIO, name, cfg.Path, err)
	}
	return ch, nil
}
