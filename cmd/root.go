package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clipscribe",
	Short: "Chunked AI transcription for media files",
	Long: `ClipScribe turns audio and video into text transcripts.

Large files are split into byte ranges, each range is uploaded to the
provider and transcribed separately, and the parts are joined back in
order. Run "clipscribe serve" for the HTTP API or "clipscribe transcribe"
for a one-shot run against a local file.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is the only entry point main uses.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
