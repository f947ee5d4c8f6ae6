package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"microratchet/internal/app"
)

func initCmd() *cobra.Command {
	var (
		dir     string
		backend string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write server.toml and client.toml sharing a fresh application key",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, client, err := app.NewPair(backend)
			if err != nil {
				return err
			}
			for name, cfg := range map[string]*app.Config{"server.toml": server, "client.toml": client} {
				path := filepath.Join(dir, name)
				if _, err := os.Stat(path); err == nil && !force {
					return fmt.Errorf("%s already exists; pass --force to overwrite", path)
				}
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory for the config files")
	cmd.Flags().StringVar(&backend, "backend", app.BackendFile, "state storage: memory, file or leveldb")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configs")
	return cmd
}
