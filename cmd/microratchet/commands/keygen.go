package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"microratchet/internal/app"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing identity sealed with the storage passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			ids, err := app.Identity(cfg)
			if err != nil {
				return err
			}
			_, fp, err := ids.GenerateIdentity(cfg.Storage.Passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nFingerprint: %s\n", fp)
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the endpoint's signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWire(configPath)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", w.Fingerprint())
			return nil
		},
	}
}
