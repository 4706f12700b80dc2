package trace

import (
	"github.com/rs/zerolog"

	"github.com/roffe/kefexcan/pkg/comm"
)

// Log writes frames and driver events as structured records.
type Log struct {
	log   zerolog.Logger
	level zerolog.Level
}

// NewLog logs frames at level, events at the level matching their type.
func NewLog(log zerolog.Logger, level zerolog.Level) *Log {
	return &Log{log: log, level: level}
}

func (l *Log) Start(bitrate uint32) {
	l.log.Info().Uint32("bitrate", bitrate).Msg("bus started")
}

func (l *Log) Stop() {
	l.log.Info().Msg("bus stopped")
}

func (l *Log) Log(e comm.Entry) {
	f := e.Frame
	ev := l.log.WithLevel(l.level).
		Str("dir", e.Direction.String()).
		Uint32("id", f.ID).
		Bool("ext", f.Extended).
		Uint8("dlc", f.DLC)
	if f.RTR {
		ev = ev.Bool("rtr", true)
	} else {
		ev = ev.Hex("data", f.Payload())
	}
	ev.Time("at", e.Time).Msg("frame")
}

func (l *Log) Event(e comm.Event) {
	ev := l.log.WithLevel(e.Type.Level())
	if !e.Time.IsZero() {
		ev = ev.Time("at", e.Time)
	}
	ev.Msg(e.Details)
}
