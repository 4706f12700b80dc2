package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roffe/kefexcan/internal/config"
	"github.com/roffe/kefexcan/pkg/comm"
	"github.com/roffe/kefexcan/pkg/trace"
)

const (
	flagPcap       = "pcap"
	flagBus        = "bus"
	flagStructured = "structured"
	flagNoColor    = "no-color"
	flagDuration   = "duration"
	flagPoll       = "poll"
)

func init() {
	f := monitorCmd.Flags()
	f.String(flagPcap, "", "also capture into this pcap file")
	f.String(flagBus, "", "YAML bus definition with cyclic frames to send")
	f.Bool(flagStructured, false, "log frames as structured records instead of console lines")
	f.Bool(flagNoColor, false, "disable colors on the console")
	f.Duration(flagDuration, 0, "stop after this long, 0 runs until interrupted")
	f.Duration(flagPoll, time.Millisecond, "bus poll interval")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print bus traffic and send cyclic frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		pcapPath, _ := f.GetString(flagPcap)
		busPath, _ := f.GetString(flagBus)
		structured, _ := f.GetBool(flagStructured)
		noColor, _ := f.GetBool(flagNoColor)
		duration, _ := f.GetDuration(flagDuration)
		poll, _ := f.GetDuration(flagPoll)

		var cyclic []comm.CyclicMessage
		bitrate := settings.Bitrate
		if busPath != "" {
			bus, err := config.LoadBus(busPath)
			if err != nil {
				return err
			}
			if cyclic, err = bus.Messages(); err != nil {
				return err
			}
			if bus.Bitrate != 0 && !f.Changed(flagBitrate) {
				bitrate = bus.Bitrate
			}
		}

		disp, err := openDispatcher()
		if err != nil {
			return err
		}
		defer disp.Close()
		drv := comm.New(disp, comm.WithLogger(logger))
		defer drv.Close()

		if structured {
			drv.AddLogger(trace.NewLog(logger, zerolog.InfoLevel))
		} else {
			drv.AddLogger(trace.NewConsole(cmd.OutOrStdout(), !noColor))
		}
		if pcapPath != "" {
			p, err := trace.CreatePcap(pcapPath)
			if err != nil {
				return err
			}
			defer func() {
				drv.RemoveLogger(p)
				if err := p.Close(); err != nil {
					logger.Error().Err(err).Msg("pcap capture incomplete")
				}
				logger.Info().Int("frames", p.Count()).Str("file", pcapPath).Msg("pcap written")
			}()
			drv.AddLogger(p)
		}
		for _, c := range cyclic {
			drv.AddCyclicMessage(c)
		}
		if err := drv.Start(bitrate); err != nil {
			return err
		}

		ctx := cmd.Context()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		return runMonitor(ctx, drv, poll)
	},
}

// runMonitor pumps the driver until ctx is done and reports statistics
// once per second.
func runMonitor(ctx context.Context, drv *comm.Driver, poll time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := drv.DistributeMessages(); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				st := drv.Stats()
				logger.Debug().
					Uint32("rx", st.RX).
					Uint32("tx", st.TX).
					Uint32("tx_errors", st.TXErrors).
					Int("load", st.BusLoad).
					Bool("overflow", st.Overflow).
					Msg("bus statistics")
			}
		}
	})
	return g.Wait()
}
