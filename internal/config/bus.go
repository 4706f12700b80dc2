package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/comm"
)

// Bus describes the traffic the monitor injects on the bus.
type Bus struct {
	Name    string        `yaml:"name"`
	Bitrate uint32        `yaml:"bitrate,omitempty"`
	Cyclic  []CyclicFrame `yaml:"cyclic"`
}

// CyclicFrame is one periodic frame, Data is hex with optional spaces and
// an empty Interval sends the frame once.
type CyclicFrame struct {
	Name     string `yaml:"name"`
	ID       uint32 `yaml:"id"`
	Extended bool   `yaml:"extended,omitempty"`
	Data     string `yaml:"data"`
	Interval string `yaml:"interval,omitempty"`
}

func LoadBus(path string) (*Bus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read bus definition: %v", kefexcan.ErrIO, err)
	}
	return ParseBus(data)
}

func ParseBus(data []byte) (*Bus, error) {
	var bus Bus
	if err := yaml.Unmarshal(data, &bus); err != nil {
		return nil, fmt.Errorf("%w: parse bus definition: %v", kefexcan.ErrConfiguration, err)
	}
	if _, err := bus.Messages(); err != nil {
		return nil, err
	}
	return &bus, nil
}

// Messages converts the definition into driver registrations.
func (b *Bus) Messages() ([]comm.CyclicMessage, error) {
	out := make([]comm.CyclicMessage, 0, len(b.Cyclic))
	for i, c := range b.Cyclic {
		msg, err := c.message()
		if err != nil {
			name := c.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("cyclic %s: %w", name, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c CyclicFrame) message() (comm.CyclicMessage, error) {
	payload, err := hex.DecodeString(strings.Join(strings.Fields(c.Data), ""))
	if err != nil {
		return comm.CyclicMessage{}, fmt.Errorf("%w: data %q: %v", kefexcan.ErrConfiguration, c.Data, err)
	}
	f, err := kefexcan.NewFrame(c.ID, payload)
	if err != nil {
		return comm.CyclicMessage{}, err
	}
	if c.Extended {
		f.Extended = true
		if err := f.Validate(); err != nil {
			return comm.CyclicMessage{}, err
		}
	}
	var interval time.Duration
	if s := strings.TrimSpace(c.Interval); s != "" {
		interval, err = time.ParseDuration(s)
		if err != nil || interval < 0 {
			return comm.CyclicMessage{}, fmt.Errorf("%w: interval %q", kefexcan.ErrConfiguration, c.Interval)
		}
	}
	return comm.CyclicMessage{Frame: f, Interval: interval}, nil
}
