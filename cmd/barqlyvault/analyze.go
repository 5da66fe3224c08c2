package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/analyzer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze BUNDLE",
	Short: "Inspect a bundle without decrypting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roots, err := resolveRoots(cmd)
		if err != nil {
			return err
		}
		result, err := analyzer.Analyze(args[0], roots.VaultsDir(), bundleAnalysisCache(roots))
		if err != nil {
			return err
		}
		fmt.Printf("name:           %s\n", result.DisplayName)
		fmt.Printf("created (hint): %s\n", result.CreatedHint.Format("2006-01-02"))
		fmt.Printf("recovery mode:  %v\n", result.IsRecoveryMode)
		if !result.IsRecoveryMode {
			fmt.Printf("vault id:       %s\n", result.VaultID)
			fmt.Printf("recipients:     %d\n", len(result.Recipients))
		}
		return nil
	},
}
