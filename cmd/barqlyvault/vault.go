package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaultpaths"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create LABEL",
	Short: "Register a new vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := args[0]
		sanitized, err := vaultpaths.SanitizeName(label)
		if err != nil {
			return err
		}

		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rec := vaultmodel.VaultRecord{
			ID:            sanitized,
			Label:         label,
			SanitizedName: sanitized,
			CreatedAt:     now,
			ModifiedAt:    now,
		}
		if err := store.UpsertVault(rec); err != nil {
			return err
		}
		fmt.Printf("vault created: %s (%s)\n", rec.Label, rec.ID)
		return nil
	},
}

func init() {
	vaultCmd.AddCommand(vaultCreateCmd)
}
