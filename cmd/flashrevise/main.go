package main

import (
	"os"

	"github.com/spf13/cobra"

	"flashrevise/api/internal/config"
	"flashrevise/api/internal/logging"
)

func main() {
	cfg := config.Load()
	logFile := logging.Setup(cfg.LogFile)
	defer logFile.Close()

	rootCmd := &cobra.Command{
		Use:          "flashrevise",
		Short:        "Flashcard revision API with pluggable sync backends",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Adapter, "adapter", cfg.Adapter, "sync adapter (none, localdir, drive, minio, github, gitlocal)")

	rootCmd.AddCommand(serveCmd(&cfg))
	rootCmd.AddCommand(syncCmd(&cfg))
	rootCmd.AddCommand(pullCmd(&cfg))
	rootCmd.AddCommand(diagnoseCmd(&cfg))
	rootCmd.AddCommand(linkDirCmd(&cfg))

	if err := rootCmd.Execute(); err != nil {
		logFile.Close()
		os.Exit(1)
	}
}
