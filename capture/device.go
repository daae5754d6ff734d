package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrDeviceUnavailable means no microphone or no loopback device qualifies.
	ErrDeviceUnavailable = errors.New("no suitable audio device")
	// ErrSessionActive means a recording is already in progress.
	ErrSessionActive = errors.New("already recording")
	// ErrNotRecording means there is no recording to stop.
	ErrNotRecording = errors.New("not recording")
	// ErrStreamRead marks a device read failure that ended a capture early.
	ErrStreamRead = errors.New("stream read failed")
)

// LoopbackHint is shown to users when no loopback device can be found.
const LoopbackHint = "enable a loopback device to capture system audio " +
	"('Stereo Mix' on Windows, a PulseAudio/PipeWire monitor source on Linux, " +
	"or a virtual cable such as VB-Cable or BlackHole)"

// Device describes an audio input device exposed by a Host.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	InputLatency      time.Duration
}

// Stream is an open blocking input stream delivering one chunk per Read.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}

// Host enumerates and opens capture devices.
type Host interface {
	Devices() ([]Device, error)
	DefaultInput() (Device, error)
	// Supports reports whether dev accepts mono int16 input at sampleRate.
	Supports(dev Device, sampleRate float64, frames int) bool
	Open(dev Device, sampleRate float64, frames int) (Stream, error)
}

var (
	micWords      = []string{"microphone", "mic", "input", "вход"}
	loopbackWords = []string{"loopback", "stereo", "mix", "monitor", "воспроизведение", "output", "playback", "headphones", "динамики"}
)

func containsAny(name string, words []string) bool {
	name = strings.ToLower(name)
	for _, w := range words {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// FindMicrophone returns the host's default input device.
func FindMicrophone(host Host) (Device, error) {
	dev, err := host.DefaultInput()
	if err != nil {
		slog.Error("Failed to find microphone", "error", err)
		return Device{}, fmt.Errorf("%w: microphone: %v", ErrDeviceUnavailable, err)
	}
	slog.Info("Using default microphone", "index", dev.Index, "name", dev.Name)
	return dev, nil
}

// FindLoopback picks the device to record system audio from. Devices named
// like microphones are skipped. The first remaining device that passes the
// format probe wins; failing that, the first one named like a loopback or
// output device is used unconfirmed. hostAPI, when set, restricts the search
// to host APIs whose name contains it.
func FindLoopback(host Host, hostAPI string, sampleRate float64, frames int) (dev Device, confirmed bool, err error) {
	devices, err := host.Devices()
	if err != nil {
		return Device{}, false, fmt.Errorf("%w: failed to list devices: %v", ErrDeviceUnavailable, err)
	}

	slog.Info("Searching for loopback device", "sampleRate", sampleRate, "hostAPI", hostAPI)

	var candidate *Device
	for i := range devices {
		d := devices[i]
		if hostAPI != "" && !strings.Contains(strings.ToLower(d.HostAPI), strings.ToLower(hostAPI)) {
			continue
		}
		if d.MaxInputChannels <= 0 {
			continue
		}
		if containsAny(d.Name, micWords) {
			slog.Debug("Skipping microphone-like device", "index", d.Index, "name", d.Name)
			continue
		}

		if host.Supports(d, sampleRate, frames) {
			slog.Info("Found loopback device", "index", d.Index, "name", d.Name)
			return d, true, nil
		}
		slog.Debug("Device does not support capture format", "index", d.Index, "name", d.Name)

		if candidate == nil && containsAny(d.Name, loopbackWords) {
			candidate = &devices[i]
		}
	}

	if candidate != nil {
		slog.Warn("Using unconfirmed loopback device, sample rate support not verified",
			"index", candidate.Index,
			"name", candidate.Name)
		return *candidate, false, nil
	}

	slog.Error("No loopback device found", "sampleRate", sampleRate)
	return Device{}, false, fmt.Errorf("%w: no loopback device; %s", ErrDeviceUnavailable, LoopbackHint)
}
