package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/internal/config"
	"github.com/roffe/kefexcan/internal/logging"
)

const (
	flagConfig   = "config"
	flagChannel  = "channel"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagBitrate  = "bitrate"
	flagDebug    = "debug"
)

var (
	settings = config.Defaults()
	logger   = zerolog.Nop()
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:               "kefextool",
	Short:             "KEFEX CAN diagnostic tool",
	Long:              "Monitor a CAN bus and talk to KEFEX servers through any registered channel.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the command tree, errors are printed by cobra.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String(flagConfig, "", "TOML settings file")
	pf.StringP(flagChannel, "c", settings.Channel, "channel to use, see 'channels'")
	pf.StringP(flagPort, "p", "", "serial port, interface or host:port of the channel")
	pf.Int(flagBaudrate, settings.PortBaudrate, "serial port baudrate")
	pf.Uint32P(flagBitrate, "b", settings.Bitrate, "CAN bitrate in kbit/s")
	pf.BoolVarP(&debug, flagDebug, "d", false, "debug logging")
}

func setup(cmd *cobra.Command, _ []string) error {
	pf := cmd.Flags()
	if path, _ := pf.GetString(flagConfig); path != "" {
		s, err := config.Load(path)
		if err != nil {
			return err
		}
		settings = s
	}
	if pf.Changed(flagChannel) {
		settings.Channel, _ = pf.GetString(flagChannel)
	}
	if pf.Changed(flagPort) {
		settings.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) {
		settings.PortBaudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagBitrate) {
		settings.Bitrate, _ = pf.GetUint32(flagBitrate)
	}

	logger = logging.New(logging.ProfileRuntime, cmd.ErrOrStderr())
	if lvl, ok := logging.ParseLevel(settings.LogLevel); ok {
		logger = logger.Level(lvl)
	}
	if debug {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return settings.Validate()
}

// openDispatcher opens the configured channel and wraps it in a Dispatcher.
func openDispatcher() (*kefexcan.Dispatcher, error) {
	cc := settings.ChannelConfig()
	cc.Debug = debug
	cc.Logger = logger
	ch, err := kefexcan.OpenChannel(settings.Channel, cc)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("channel", ch.Name()).Str("caps", ch.Capabilities().String()).Msg("channel open")
	return kefexcan.NewDispatcher(ch, kefexcan.WithDispatcherLogger(logger))
}

func parseUint(name, s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", kefexcan.ErrOutOfRange, name, s, err)
	}
	return v, nil
}
