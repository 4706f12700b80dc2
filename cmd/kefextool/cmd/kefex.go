package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/bar"
	"github.com/roffe/kefexcan/pkg/datacontent"
	"github.com/roffe/kefexcan/pkg/kefex"
)

const (
	flagProject    = "project"
	flagProjectCRC = "project-crc"
	flagLength     = "length"
	flagInterval   = "interval"
	flagTimestamp  = "timestamp"
	flagKind       = "kind"
)

var kefexCmd = &cobra.Command{
	Use:   "kefex",
	Short: "KEFEX protocol services",
}

func init() {
	pf := kefexCmd.PersistentFlags()
	pf.Int(flagProject, -1, "log on to this project index first, -1 skips logon")
	pf.String(flagProjectCRC, "0", "project checksum sent with the logon")

	kefexReadCmd.Flags().Int(flagLength, 0, "read this many bytes with a segmented transfer")
	kefexReadCmd.Flags().String(flagKind, "", "decode the value as little-endian u8, s16, f32 ...")
	kefexWriteCmd.Flags().String(flagKind, "", "encode comma separated values of this kind instead of hex")
	kefexWatchCmd.Flags().Duration(flagInterval, 100*time.Millisecond, "transmission interval")
	kefexWatchCmd.Flags().Bool(flagTimestamp, false, "request timestamped transmissions")

	kefexMemCmd.AddCommand(kefexMemReadCmd, kefexMemWriteCmd)
	kefexCmd.AddCommand(kefexLogonCmd, kefexReadCmd, kefexWriteCmd, kefexDumpCmd, kefexWatchCmd, kefexMemCmd)
	rootCmd.AddCommand(kefexCmd)
}

// session opens the channel, attaches a protocol driver and logs on when
// --project is given. The returned close func releases everything.
func session(cmd *cobra.Command, opts ...kefex.Option) (*kefex.Driver, func(), error) {
	disp, err := openDispatcher()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]kefex.Option{
		kefex.WithLogger(logger),
		kefex.WithResetHandler(func() { logger.Warn().Msg("server reset") }),
	}, opts...)
	drv, err := kefex.New(settings.KEFEX.Config(), opts...)
	if err != nil {
		disp.Close()
		return nil, nil, err
	}
	if err := drv.SetDispatcher(disp); err != nil {
		disp.Close()
		return nil, nil, err
	}
	closeAll := func() {
		drv.Close()
		disp.Close()
	}

	project, _ := cmd.Flags().GetInt(flagProject)
	if project >= 0 {
		crcStr, _ := cmd.Flags().GetString(flagProjectCRC)
		if err := logon(drv, fmt.Sprint(project), crcStr); err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	return drv, closeAll, nil
}

func logon(drv *kefex.Driver, projectStr, crcStr string) error {
	project, err := parseUint("project index", projectStr, 8)
	if err != nil {
		return err
	}
	crc, err := parseUint("project crc", crcStr, 16)
	if err != nil {
		return err
	}
	if err := drv.Logon(uint8(project), uint16(crc), settings.KEFEX.Timeout); err != nil {
		return err
	}
	logger.Info().Uint64("project", project).Msg("logged on")
	return nil
}

func parseIndex(s string) (uint16, error) {
	v, err := parseUint("index", s, 16)
	return uint16(v), err
}

// parseKind returns ok false when no kind flag was given.
func parseKind(cmd *cobra.Command) (datacontent.Kind, bool, error) {
	s, _ := cmd.Flags().GetString(flagKind)
	if s == "" {
		return 0, false, nil
	}
	k, err := datacontent.ParseKind(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", kefexcan.ErrOutOfRange, err)
	}
	return k, true, nil
}

// encodeValues turns "1,2 3" into the little-endian bytes of k values.
func encodeValues(k datacontent.Kind, s string) ([]byte, error) {
	values := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	c, err := datacontent.Parse(k, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kefexcan.ErrOutOfRange, err)
	}
	return c.Bytes(binary.LittleEndian), nil
}

func formatValues(k datacontent.Kind, data []byte) (string, error) {
	c, err := datacontent.Decode(k, binary.LittleEndian, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", kefexcan.ErrCommunication, err)
	}
	return c.String(), nil
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: data %q: %v", kefexcan.ErrOutOfRange, s, err)
	}
	return b, nil
}

var kefexLogonCmd = &cobra.Command{
	Use:   "logon <project> <crc>",
	Short: "log on to a project and off again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, closeAll, err := session(cmd)
		if err != nil {
			return err
		}
		defer closeAll()
		if err := logon(drv, args[0], args[1]); err != nil {
			return err
		}
		return drv.Logoff(settings.KEFEX.Timeout)
	},
}

var kefexReadCmd = &cobra.Command{
	Use:   "read <index>",
	Short: "read a variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		length, _ := cmd.Flags().GetInt(flagLength)
		kind, decode, err := parseKind(cmd)
		if err != nil {
			return err
		}
		drv, closeAll, err := session(cmd)
		if err != nil {
			return err
		}
		defer closeAll()

		var data []byte
		if length > kefex.MaxVariableData {
			data, err = drv.ReadSegmented(index, length, settings.KEFEX.BlockSize, settings.KEFEX.STMin, settings.KEFEX.Timeout)
		} else {
			data, err = drv.ReadVariable(index, settings.KEFEX.Timeout)
		}
		if err != nil {
			return err
		}
		if decode {
			v, err := formatValues(kind, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%04X: %s\n", index, v)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "0x%04X: % X\n", index, data)
		return nil
	},
}

var kefexWriteCmd = &cobra.Command{
	Use:   "write <index> <hex|values>",
	Short: "write a variable, values longer than 4 bytes are written segmented",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		kind, encode, err := parseKind(cmd)
		if err != nil {
			return err
		}
		var data []byte
		if encode {
			data, err = encodeValues(kind, args[1])
		} else {
			data, err = parseHex(args[1])
		}
		if err != nil {
			return err
		}
		if len(data) <= kefex.MaxVariableData {
			drv, closeAll, err := session(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			return drv.WriteVariable(index, data, settings.KEFEX.Timeout)
		}

		b := bar.New(len(data), "write")
		drv, closeAll, err := session(cmd, kefex.WithProgress(bar.Tracker(b)))
		if err != nil {
			return err
		}
		defer closeAll()
		err = drv.WriteSegmented(index, data, settings.KEFEX.Timeout)
		fmt.Fprintln(cmd.OutOrStdout())
		return err
	},
}

var kefexDumpCmd = &cobra.Command{
	Use:   "dump <index> <length> <file>",
	Short: "read a long variable into a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		length, err := parseUint("length", args[1], 24)
		if err != nil {
			return err
		}
		b := bar.New(int(length), "dump")
		drv, closeAll, err := session(cmd, kefex.WithProgress(bar.Tracker(b)))
		if err != nil {
			return err
		}
		defer closeAll()

		start := time.Now()
		data, err := drv.ReadSegmented(index, int(length), settings.KEFEX.BlockSize, settings.KEFEX.STMin, settings.KEFEX.Timeout)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], data, 0o644); err != nil {
			return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
		}
		logger.Info().
			Int("bytes", len(data)).
			Dur("took", time.Since(start)).
			Str("file", args[2]).
			Msg("dump done")
		return nil
	},
}

var kefexWatchCmd = &cobra.Command{
	Use:   "watch <index>",
	Short: "subscribe to cyclic transmissions of a variable until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration(flagInterval)
		timestamped, _ := cmd.Flags().GetBool(flagTimestamp)
		out := cmd.OutOrStdout()
		drv, closeAll, err := session(cmd, kefex.WithTelemetryHandler(func(t kefex.Telemetry) {
			if t.Timestamped {
				fmt.Fprintf(out, "%6d ms 0x%04X: % X\n", t.Timestamp, t.Index, t.Data)
				return
			}
			fmt.Fprintf(out, "0x%04X: % X\n", t.Index, t.Data)
		}))
		if err != nil {
			return err
		}
		defer closeAll()

		if err := drv.SendTCRR(index, interval, timestamped); err != nil {
			return err
		}
		defer func() {
			if err := drv.SendAbortResponse(index); err != nil {
				logger.Warn().Err(err).Msg("abort transmission")
			}
		}()

		ctx := cmd.Context()
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if err := drv.EvaluateAllResponses(); err != nil {
					return err
				}
				if r, ok := drv.LastResponse(); ok && r.Err() != nil {
					return r.Err()
				}
			}
		}
	},
}

var kefexMemCmd = &cobra.Command{
	Use:   "mem",
	Short: "server memory access",
}

func parseMemArgs(typeStr, addrStr string) (uint8, uint32, error) {
	memType, err := parseUint("memory type", typeStr, 8)
	if err != nil {
		return 0, 0, err
	}
	addr, err := parseUint("address", addrStr, 24)
	if err != nil {
		return 0, 0, err
	}
	return uint8(memType), uint32(addr), nil
}

var kefexMemReadCmd = &cobra.Command{
	Use:   "read <type> <address> <size>",
	Short: "read up to 3 bytes of memory",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		memType, addr, err := parseMemArgs(args[0], args[1])
		if err != nil {
			return err
		}
		size, err := parseUint("size", args[2], 8)
		if err != nil {
			return err
		}
		drv, closeAll, err := session(cmd)
		if err != nil {
			return err
		}
		defer closeAll()
		data, err := drv.ReadMemory(memType, addr, uint8(size), settings.KEFEX.Timeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d:0x%06X: % X\n", memType, addr, data)
		return nil
	},
}

var kefexMemWriteCmd = &cobra.Command{
	Use:   "write <type> <address> <hex>",
	Short: "write up to 2 bytes of memory",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		memType, addr, err := parseMemArgs(args[0], args[1])
		if err != nil {
			return err
		}
		data, err := parseHex(args[2])
		if err != nil {
			return err
		}
		drv, closeAll, err := session(cmd)
		if err != nil {
			return err
		}
		defer closeAll()
		return drv.WriteMemory(memType, addr, data, settings.KEFEX.Timeout)
	},
}
