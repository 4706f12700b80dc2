package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/gateway"
)

const flagListen = "listen"

func init() {
	gatewayCmd.Flags().String(flagListen, "127.0.0.1:4711", "TCP address NetCAN clients connect to")
	rootCmd.AddCommand(gatewayCmd)
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "share the channel with NetCAN clients over TCP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString(flagListen)
		disp, err := openDispatcher()
		if err != nil {
			return err
		}
		defer disp.Close()
		srv, err := gateway.New(disp, gateway.WithLogger(logger))
		if err != nil {
			return err
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
		}
		logger.Info().Str("addr", l.Addr().String()).Str("channel", disp.Channel().Name()).Msg("gateway listening")
		return srv.Serve(cmd.Context(), l)
	},
}
