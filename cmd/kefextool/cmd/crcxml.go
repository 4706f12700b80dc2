package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/crcxml"
)

var crcxmlCmd = &cobra.Command{
	Use:   "crcxml",
	Short: "checksummed XML configuration files",
}

func init() {
	crcxmlCmd.AddCommand(crcxmlSignCmd, crcxmlVerifyCmd)
	rootCmd.AddCommand(crcxmlCmd)
}

var crcxmlSignCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "validate a file and store its checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
		}
		root, err := crcxml.Decode(bufio.NewReader(f))
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := crcxml.NewValidator().Validate(root); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := crcxml.Save(args[0], root); err != nil {
			return err
		}
		v, _ := root.Attr(crcxml.ChecksumAttr)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s=%s\n", args[0], crcxml.ChecksumAttr, v)
		return nil
	},
}

var errVerify = errors.New("verification failed")

var crcxmlVerifyCmd = &cobra.Command{
	Use:   "verify <file>...",
	Short: "check checksum and structure of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		okLabel := color.New(color.FgGreen).Sprint("ok")
		failLabel := color.New(color.FgRed).Sprint("FAIL")
		v := crcxml.NewValidator()
		failed := 0
		for _, path := range args {
			root, err := crcxml.Load(path)
			if err == nil {
				err = v.Validate(root)
			}
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s %s: %v\n", failLabel, path, err)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", okLabel, path)
		}
		hits, misses := v.Stats()
		logger.Debug().Int("memo_hits", hits).Int("memo_misses", misses).Msg("validation")
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d files", errVerify, failed, len(args))
		}
		return nil
	},
}
