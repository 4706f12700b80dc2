// Package bar renders segmented transfer progress on the terminal.
package bar

import (
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

var theme = progressbar.Theme{
	Saucer:        "[green]=[reset]",
	SaucerHead:    "[green]>[reset]",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

// New returns a byte counting bar writing to the ANSI aware stdout.
func New(length int, text string) *progressbar.ProgressBar {
	return NewWriter(ansi.NewAnsiStdout(), length, text)
}

func NewWriter(w io.Writer, length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription("[cyan]"+text+"[reset]"),
		progressbar.OptionSetTheme(theme),
	)
}

// Tracker adapts a bar to the done/total callback of segmented transfers.
func Tracker(b *progressbar.ProgressBar) func(done, total int) {
	return func(done, total int) {
		if int64(total) != b.GetMax64() {
			b.ChangeMax(total)
		}
		b.Set(done)
	}
}
