package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bosley/listener/audio"
	"github.com/bosley/listener/capture"
)

const probeFrames = 1024

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices and the ones a recording would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := capture.NewPortAudioHost()
			if err != nil {
				return err
			}
			defer host.Close()

			return listDevices(cmd, host, deps.Config.Audio.LoopbackHostAPI)
		},
	}
}

func listDevices(cmd *cobra.Command, host capture.Host, hostAPI string) error {
	out := cmd.OutOrStdout()

	devices, err := host.Devices()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Available audio devices:")
	for _, d := range devices {
		fmt.Fprintf(out, "[%d] %s\n", d.Index, d.Name)
		fmt.Fprintf(out, "    Host API: %s\n", d.HostAPI)
		fmt.Fprintf(out, "    Max Input Channels: %d\n", d.MaxInputChannels)
		fmt.Fprintf(out, "    Default Sample Rate: %.0f\n", d.DefaultSampleRate)
		fmt.Fprintln(out)
	}

	if mic, err := capture.FindMicrophone(host); err == nil {
		fmt.Fprintf(out, "Microphone: [%d] %s\n", mic.Index, mic.Name)
	} else {
		fmt.Fprintf(out, "Microphone: none (%v)\n", err)
	}

	loopback, confirmed, err := capture.FindLoopback(host, hostAPI, audio.SampleRate, probeFrames)
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		fmt.Fprintf(out, "Loopback: none\n  %s\n", capture.LoopbackHint)
	case err != nil:
		return err
	case confirmed:
		fmt.Fprintf(out, "Loopback: [%d] %s\n", loopback.Index, loopback.Name)
	default:
		fmt.Fprintf(out, "Loopback: [%d] %s (%d Hz not confirmed)\n", loopback.Index, loopback.Name, audio.SampleRate)
	}
	return nil
}
