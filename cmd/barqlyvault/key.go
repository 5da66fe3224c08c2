package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/cryptostream"
	"github.com/barqly/vault-core/internal/lifecycle"
	"github.com/barqly/vault-core/internal/vaultconfig"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage keys",
}

var keyRegisterCmd = &cobra.Command{
	Use:   "register-passphrase LABEL",
	Short: "Register a new passphrase key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := args[0]
		passphrase, _ := cmd.Flags().GetString("passphrase")
		if passphrase == "" {
			var err error
			passphrase, err = promptPassphrase("Enter passphrase for " + label)
			if err != nil {
				return err
			}
		}
		if passphrase == "" {
			return fmt.Errorf("passphrase required")
		}

		roots, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		cfg, err := vaultconfig.Load(roots.ConfigPath())
		if err != nil {
			return err
		}
		// Validate the passphrase actually derives a usable recipient before
		// registering it; the passphrase itself is never stored, only
		// re-entered at encrypt/decrypt time.
		if _, err := cryptostream.PassphraseRecipient(passphrase, cfg.Crypto.ScryptWorkFactorLog2); err != nil {
			return err
		}

		// Generate and wrap this key's pepper, then write the wrapped-key
		// file before registering, so a registered passphrase key is never
		// left without the file that backs it.
		pepper, err := cryptostream.GeneratePepper()
		if err != nil {
			return err
		}
		wrapped, err := cryptostream.WrapPepper(passphrase, cfg.Crypto.ScryptWorkFactorLog2, pepper)
		if err != nil {
			return err
		}
		wrappedPath := roots.WrappedKeyPath(label)
		if err := os.MkdirAll(roots.KeysDir(), 0o700); err != nil {
			return vaulterr.Wrap(vaulterr.CodeIoError, "create keys directory", err)
		}
		if err := os.WriteFile(wrappedPath, wrapped, 0o600); err != nil {
			return vaulterr.Wrap(vaulterr.CodeIoError, "write wrapped key file", err)
		}

		rec, err := store.Register(vaultmodel.KeyRecord{
			Label:          label,
			Type:           vaultmodel.KeyTypePassphrase,
			WrappedKeyFile: wrappedPath,
		})
		if err != nil {
			_ = os.Remove(wrappedPath)
			return err
		}
		fmt.Printf("key registered: %s (%s)\n", rec.Label, rec.ID)
		return nil
	},
}

var keyAttachCmd = &cobra.Command{
	Use:   "attach KEY_ID VAULT_ID",
	Short: "Attach a key to a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return store.Attach(args[0], args[1])
	},
}

var keyDetachCmd = &cobra.Command{
	Use:   "detach KEY_ID VAULT_ID",
	Short: "Detach a key from a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return store.Detach(args[0], args[1])
	},
}

var keyDeactivateCmd = &cobra.Command{
	Use:   "deactivate KEY_ID REASON",
	Short: "Deactivate a key, starting the restore grace window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return store.Deactivate(args[0], args[1])
	},
}

var keyRestoreCmd = &cobra.Command{
	Use:   "restore KEY_ID",
	Short: "Restore a deactivated key to its prior state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return store.Restore(args[0])
	},
}

var keyDestroyCmd = &cobra.Command{
	Use:   "destroy KEY_ID REASON",
	Short: "Destroy a pre-activation, suspended, or deactivated key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return lifecycle.Destroy(store, args[0], args[1])
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		for _, k := range store.ListAll() {
			fmt.Printf("%s\t%s\t%s\t%s\n", k.ID, k.Label, k.Type, k.State)
		}
		return nil
	},
}

func init() {
	keyRegisterCmd.Flags().String("passphrase", "", "Passphrase to derive the recipient from")
	keyCmd.AddCommand(keyRegisterCmd)
	keyCmd.AddCommand(keyAttachCmd)
	keyCmd.AddCommand(keyDetachCmd)
	keyCmd.AddCommand(keyDeactivateCmd)
	keyCmd.AddCommand(keyRestoreCmd)
	keyCmd.AddCommand(keyDestroyCmd)
	keyCmd.AddCommand(keyListCmd)
}
