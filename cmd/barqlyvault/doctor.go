package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/bootstrap"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run startup reconciliation and print a health report",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots, err := resolveRoots(cmd)
		if err != nil {
			return err
		}
		_, report, err := bootstrap.Run(roots)
		if err != nil {
			return err
		}

		fmt.Printf("device identity created: %v\n", report.DeviceCreated)
		fmt.Printf("vaults discovered:       %d\n", len(report.VaultsDiscovered))
		fmt.Printf("keys swept (destroyed):  %d\n", len(report.KeysSweptDestroyed))
		fmt.Printf("orphaned keys:           %d\n", len(report.OrphanedKeys))
		fmt.Printf("manifests missing keys:  %d\n", len(report.ManifestsWithoutRegistryEntry))
		for _, entry := range report.ManifestsWithoutRegistryEntry {
			fmt.Printf("  - %s\n", entry)
		}
		return nil
	},
}
