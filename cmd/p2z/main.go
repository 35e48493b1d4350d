// Package main provides the p2z CLI entry point.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "p2z",
	Short: "Migrate a Papers2 library to Zotero",
	Long: `p2z migrates bibliographic records and attachments from a local
Papers2 library into a Zotero library.

Progress is checkpointed, so an interrupted migration resumes where it
stopped without creating duplicates. Attachments are either uploaded or,
when a linked-attachment base directory is configured, registered as
linked files and relocated in place.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
}
