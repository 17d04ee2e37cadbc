package main

import (
	"os"

	"github.com/spf13/cobra"

	journalcmd "github.com/jiechenghan/nifi/internal/cmd/journal"
	logpkg "github.com/jiechenghan/nifi/pkg/log"
)

func main() {
	// Respect NIFI_PROV_LOG_LEVEL/FORMAT for CLI output
	level := os.Getenv("NIFI_PROV_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if os.Getenv("NIFI_PROV_LOG_FORMAT") == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "nifi",
		Short: "Provenance journal CLI",
		Long:  "Tooling for provenance journal files: dump, verify and index inspection, plus keystore management.",
	}
	rootCmd.AddCommand(journalcmd.NewJournalCommand(logger))
	rootCmd.AddCommand(journalcmd.NewKeystoreCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
