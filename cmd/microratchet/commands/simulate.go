package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"microratchet/internal/app"
)

func simulateCmd() *cobra.Command {
	var (
		serverPath string
		clientPath string
		opts       app.SimulateOptions
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Handshake and exchange random payloads between two configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := loadWire(serverPath)
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			defer server.Close()
			client, err := loadWire(clientPath)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}
			defer client.Close()

			rep, err := app.Simulate(cmd.Context(), client, server, opts)
			if rep != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"sent=%d delivered=%d frames=%d dropped=%d rejected=%d expired=%d\n",
					rep.Sent, rep.Delivered, rep.Frames, rep.Dropped, rep.Rejected, rep.Expired)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&serverPath, "server", "server.toml", "server config")
	cmd.Flags().StringVar(&clientPath, "client", "client.toml", "client config")
	cmd.Flags().IntVarP(&opts.Messages, "messages", "n", 100, "payloads to exchange")
	cmd.Flags().IntVar(&opts.MaxPayload, "max-payload", 0, "largest payload (default: one frame)")
	cmd.Flags().Float64Var(&opts.Loss, "loss", 0, "probability a frame is dropped")
	cmd.Flags().BoolVar(&opts.Reorder, "reorder", false, "shuffle frames within each burst")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "save both states after every burst")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}
