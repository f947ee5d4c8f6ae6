package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/protocol/state"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Describe the stored session state without printing key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWire(configPath)
			if err != nil {
				return err
			}
			defer w.Close()
			raw, err := w.Storage.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(raw) == 0 {
				fmt.Fprintln(out, "no stored state")
				return nil
			}
			sum, err := state.Summarize(raw, crypto.X25519Factory{})
			if err != nil {
				return err
			}
			role := domain.RoleFor(sum.IsClient)
			fmt.Fprintf(out, "role:        %s\n", role)
			fmt.Fprintf(out, "established: %t\n", sum.Established)
			fmt.Fprintf(out, "handshake:   %t\n", sum.Pending)
			fmt.Fprintf(out, "steps:       %d\n", sum.Steps)
			fmt.Fprintf(out, "lost keys:   %d\n", sum.LostKeys)
			fmt.Fprintf(out, "size:        %d bytes\n", sum.Bytes)
			fmt.Fprintf(out, "fingerprint: %s\n", w.Fingerprint())
			return nil
		},
	}
}
