// Command barqlyvault is a thin cobra CLI over internal/orchestrator,
// internal/registry, and internal/bootstrap, exposing vault/key
// management, encrypt, decrypt, analyze, and doctor as subcommands
// without a GUI surface.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/vaultlog"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "barqlyvault",
	Short:   "Barqly Vault - local, offline-first encrypted archival",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "Override the private data directory (defaults to the platform app-data location)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(doctorCmd)
}

func initLogging() {
	levelStr, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	vaultlog.Init(vaultlog.Config{Level: level, JSONOutput: jsonOutput})
}
