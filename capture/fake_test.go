package capture

import (
	"errors"
	"sync"
	"time"
)

// fakeClock advances only when a fake stream is read.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStream struct {
	clock   *fakeClock
	frames  int
	value   int16
	failAt  int // fail on this read (1-based), 0 never
	onRead  func(n int)
	reads   int
	closed  bool
	advance bool
	mu      sync.Mutex
}

func (s *fakeStream) Read() ([]int16, error) {
	s.mu.Lock()
	s.reads++
	n := s.reads
	s.mu.Unlock()

	if s.failAt > 0 && n >= s.failAt {
		return nil, errors.New("Input overflowed")
	}
	if s.advance && s.clock != nil {
		s.clock.Advance(time.Duration(s.frames) * time.Second / sampleRate)
	}
	if s.onRead != nil {
		s.onRead(n)
	}
	chunk := make([]int16, s.frames)
	for i := range chunk {
		chunk[i] = s.value
	}
	return chunk, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeHost struct {
	devices    []Device
	defaultIn  *Device
	supported  map[string]bool
	streams    map[string]*fakeStream
	openErr    map[string]error
	opened     []string
	devicesErr error
}

func (h *fakeHost) Devices() ([]Device, error) {
	if h.devicesErr != nil {
		return nil, h.devicesErr
	}
	return h.devices, nil
}

func (h *fakeHost) DefaultInput() (Device, error) {
	if h.defaultIn == nil {
		return Device{}, errors.New("no default input")
	}
	return *h.defaultIn, nil
}

func (h *fakeHost) Supports(dev Device, _ float64, _ int) bool {
	return h.supported[dev.Name]
}

func (h *fakeHost) Open(dev Device, _ float64, _ int) (Stream, error) {
	if err := h.openErr[dev.Name]; err != nil {
		return nil, err
	}
	h.opened = append(h.opened, dev.Name)
	return h.streams[dev.Name], nil
}

func newDualHost(clock *fakeClock) (*fakeHost, *fakeStream, *fakeStream) {
	mic := Device{Index: 0, Name: "Built-in Microphone", MaxInputChannels: 1}
	lb := Device{Index: 1, Name: "Stereo Mix (Realtek)", MaxInputChannels: 2}

	micStream := &fakeStream{clock: clock, frames: framesPerBuffer, value: 1, advance: true}
	lbStream := &fakeStream{clock: clock, frames: framesPerBuffer, value: 2}

	host := &fakeHost{
		devices:   []Device{mic, lb},
		defaultIn: &mic,
		supported: map[string]bool{lb.Name: true},
		streams: map[string]*fakeStream{
			mic.Name: micStream,
			lb.Name:  lbStream,
		},
	}
	return host, micStream, lbStream
}
