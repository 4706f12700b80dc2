package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/roffe/kefexcan"
)

func init() {
	rootCmd.AddCommand(channelsCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "list registered channels and serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Channels:")
		for _, info := range kefexcan.ListChannels() {
			fmt.Fprintln(out, "  "+info.String())
		}
		ports, err := serial.GetPortsList()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to list serial ports")
			return nil
		}
		fmt.Fprintln(out, "Serial ports:")
		if len(ports) == 0 {
			fmt.Fprintln(out, "  none")
		}
		for _, p := range ports {
			fmt.Fprintln(out, "  "+p)
		}
		return nil
	},
}
