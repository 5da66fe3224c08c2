package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/analyzer"
	"github.com/barqly/vault-core/internal/orchestrator"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt BUNDLE DEST_DIR",
	Short: "Decrypt a bundle into a destination directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundlePath := args[0]
		destDir := args[1]
		passphrase, _ := cmd.Flags().GetString("passphrase")
		keyID, _ := cmd.Flags().GetString("key")
		if keyID == "" {
			return fmt.Errorf("--key is required")
		}
		if passphrase == "" {
			var err error
			passphrase, err = promptPassphrase("Enter passphrase")
			if err != nil {
				return err
			}
		}

		roots, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		key, err := store.Get(keyID)
		if err != nil {
			return err
		}

		inspected, err := analyzer.Analyze(bundlePath, roots.VaultsDir(), bundleAnalysisCache(roots))
		if err != nil {
			return err
		}
		if inspected.IsRecoveryMode {
			fmt.Println("recovery mode: no local manifest matched this bundle")
		}

		req := orchestrator.DecryptRequest{
			BundlePath: bundlePath,
			Identities: []orchestrator.IdentitySpec{
				{Key: *key, Passphrase: passphrase},
			},
			DestDir:      destDir,
			KeysDir:      roots.KeysDir(),
			ManifestPath: roots.ManifestPath(inspected.SanitizedName),
			BackupsDir:   roots.ManifestBackupsDir(),
		}

		result, err := orchestrator.Decrypt(context.Background(), req, nil)
		if err != nil {
			return err
		}
		fmt.Printf("extracted %d files to %s\n", len(result.ExtractedFiles), destDir)
		if result.ManifestWarning != nil {
			fmt.Printf("warning: %s\n", result.ManifestWarning.Message)
		}
		return nil
	},
}

func init() {
	decryptCmd.Flags().String("key", "", "Key id to decrypt with")
	decryptCmd.Flags().String("passphrase", "", "Passphrase for the key")
}
