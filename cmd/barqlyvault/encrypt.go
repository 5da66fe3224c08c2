package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/bundle"
	"github.com/barqly/vault-core/internal/orchestrator"
	"github.com/barqly/vault-core/internal/vaultconfig"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt VAULT_ID FILE...",
	Short: "Encrypt the given files into the vault's bundle",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID := args[0]
		paths := args[1:]
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
		vault, ok := store.Vault(vaultID)
		if !ok {
			return fmt.Errorf("vault not found: %s", vaultID)
		}
		key, err := store.Get(keyID)
		if err != nil {
			return err
		}
		cfg, err := vaultconfig.Load(roots.ConfigPath())
		if err != nil {
			return err
		}

		files, err := sourceFiles(paths)
		if err != nil {
			return err
		}

		req := orchestrator.EncryptRequest{
			Vault: *vault,
			Files: files,
			Recipients: []orchestrator.RecipientSpec{
				{Key: *key, Passphrase: passphrase},
			},
			ManifestVersion:     1,
			ScryptWorkLog2:      cfg.Crypto.ScryptWorkFactorLog2,
			LocalManifestPath:   roots.ManifestPath(vault.SanitizedName),
			ManifestBackupsDir:  roots.ManifestBackupsDir(),
			BundlePath:          filepath.Join(roots.BundlesDir(), vault.SanitizedName+"-"+bundleDateStamp()+".age"),
		}

		events := make(chan orchestrator.Event, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events {
				fmt.Printf("[%s] %d/%d\n", ev.Phase, ev.BytesDone, ev.TotalBytes)
			}
		}()

		manifest, err := orchestrator.Encrypt(context.Background(), req, events)
		close(events)
		<-done
		if err != nil {
			return err
		}
		fmt.Printf("encrypted %d files (%d bytes) to %s\n", manifest.FileCount, manifest.TotalSize, req.BundlePath)
		return nil
	},
}

func init() {
	encryptCmd.Flags().String("key", "", "Key id to encrypt against")
	encryptCmd.Flags().String("passphrase", "", "Passphrase for the key")
}

// sourceFiles builds bundle.SourceFile entries rooted at each path's
// immediate parent directory: a file gets its base name, a directory's
// files get the directory name plus their path beneath it. Two selected
// files with the same base name get the same relative path, which
// bundle.ValidateSelection rejects as a duplicate.
func sourceFiles(paths []string) ([]bundle.SourceFile, error) {
	out := make([]bundle.SourceFile, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			err := filepath.Walk(abs, func(walked string, fi os.FileInfo, err error) error {
				if err != nil || fi.IsDir() {
					return err
				}
				rel, err := filepath.Rel(filepath.Dir(abs), walked)
				if err != nil {
					return err
				}
				out = append(out, bundle.SourceFile{RelativePath: filepath.ToSlash(rel), AbsolutePath: walked})
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, bundle.SourceFile{RelativePath: filepath.Base(abs), AbsolutePath: abs})
	}
	return out, nil
}

func bundleDateStamp() string {
	return time.Now().UTC().Format("2006-01-02")
}
