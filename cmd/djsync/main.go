// Command djsync keeps an offline mirror of a journal account and syncs
// queued changes to the server.
package main

import (
	"os"

	"github.com/roach88/djsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.Execute()
	if err == nil {
		return
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	if !isKnownFormat(format) {
		format = "text"
	}
	out := &cli.OutputFormatter{Format: format, Writer: os.Stdout, ErrWriter: os.Stderr}
	os.Exit(out.ReportError(err))
}

func isKnownFormat(format string) bool {
	for _, f := range cli.ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
