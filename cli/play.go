package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bosley/listener/capture"
)

func NewPlayCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Play a recorded track on the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			host, err := capture.NewPortAudioHost()
			if err != nil {
				return err
			}
			defer host.Close()

			return capture.Play(ctx, args[0])
		},
	}
}
