package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const channels = 1

// PortAudioHost is a Host backed by the system PortAudio library.
type PortAudioHost struct{}

// NewPortAudioHost initializes PortAudio. Call Close when done.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}

func toDevice(index int, info *portaudio.DeviceInfo) Device {
	d := Device{
		Index:             index,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		InputLatency:      info.DefaultLowInputLatency,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}

// Devices lists every device PortAudio knows about, inputs and outputs.
func (h *PortAudioHost) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = toDevice(i, info)
	}
	return devices, nil
}

// DefaultInput returns the default input device.
func (h *PortAudioHost) DefaultInput() (Device, error) {
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to get default input device: %w", err)
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return Device{}, fmt.Errorf("failed to get devices: %w", err)
	}
	for i, info := range infos {
		if info == def || (info.Name == def.Name && info.HostApi == def.HostApi) {
			return toDevice(i, info), nil
		}
	}
	return toDevice(-1, def), nil
}

func (h *PortAudioHost) lookup(dev Device) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	if dev.Index >= 0 && dev.Index < len(infos) && infos[dev.Index].Name == dev.Name {
		return infos[dev.Index], nil
	}
	for _, info := range infos {
		if info.Name == dev.Name {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", dev.Name)
}

func inputParams(info *portaudio.DeviceInfo, sampleRate float64, frames int) portaudio.StreamParameters {
	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frames,
	}
}

// Supports probes whether dev can deliver mono int16 samples at sampleRate.
func (h *PortAudioHost) Supports(dev Device, sampleRate float64, frames int) bool {
	info, err := h.lookup(dev)
	if err != nil {
		return false
	}
	buf := make([]int16, frames)
	return portaudio.IsFormatSupported(inputParams(info, sampleRate, frames), buf) == nil
}

// Open starts a blocking mono int16 input stream on dev.
func (h *PortAudioHost) Open(dev Device, sampleRate float64, frames int) (Stream, error) {
	info, err := h.lookup(dev)
	if err != nil {
		return nil, err
	}

	buf := make([]int16, frames)
	stream, err := portaudio.OpenStream(inputParams(info, sampleRate, frames), buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream on %q: %w", dev.Name, err)
	}
	return &paStream{stream: stream, buf: buf}, nil
}

type paStream struct {
	stream *portaudio.Stream
	buf    []int16
}

// Read blocks until one chunk is available and returns a copy of it.
func (s *paStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	chunk := make([]int16, len(s.buf))
	copy(chunk, s.buf)
	return chunk, nil
}

func (s *paStream) Close() error {
	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop audio stream: %w", stopErr)
	}
	return nil
}
