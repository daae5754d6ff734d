// Package cli wires configuration, logging and the listener services into
// cobra commands.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bosley/listener/config"
)

// Dependencies are shared by every command once the root has loaded them.
type Dependencies struct {
	ConfigPath string
	Config     *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "listener",
		Short: "Record meetings and build speaker-attributed transcripts",
		Long: "listener records the microphone and system audio of a meeting, or ingests " +
			"an audio file, then transcribes, diarizes and stores who said what.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			deps.Config = cfg

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "path to config.yml")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewPlayCmd(deps))

	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd(&Dependencies{}).Execute()
}
