package commands

import (
	"github.com/spf13/cobra"

	"microratchet/internal/app"
)

var configPath string

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:          "microratchet",
		Short:        "Header-encrypted double ratchet sessions over small frames",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "endpoint config file")

	root.AddCommand(initCmd(), keygenCmd(), fingerprintCmd(), simulateCmd(), inspectCmd())
	return root.Execute()
}

func loadWire(path string) (*app.Wire, error) {
	cfg, err := app.Load(path)
	if err != nil {
		return nil, err
	}
	return app.NewWire(cfg)
}
