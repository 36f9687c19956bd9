package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	LogFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Presence radar service",
		Long:  "Shares obfuscated locations of people who are out and shows who is nearby.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.LogFile)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "radar.log", "also append logs to this file (empty to disable)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSweepCommand())

	return cmd
}

func setupLogging(path string) error {
	if path == "" {
		return nil
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	// The file stays open for the life of the process
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}
