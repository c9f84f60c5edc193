package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"go.uber.org/multierr"
)

// Constraints are the processing features requested from the input device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Device hands out exclusive capture handles on a microphone.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Source, error)
}

// Source is an acquired microphone. Connect starts delivering float32
// sample buffers to fn on the capture callback; fn must not block.
type Source interface {
	Connect(fn func(samples []float32)) error
	Disconnect() error
	Close() error
}

var ErrSourceClosed = errors.New("audio source closed")

type PortAudioDevice struct {
	SampleRate      float64
	FramesPerBuffer int
	logger          *log.Logger
}

func NewPortAudioDevice(framesPerBuffer int, logger *log.Logger) *PortAudioDevice {
	if framesPerBuffer <= 0 {
		framesPerBuffer = SampleRate / 50
	}
	return &PortAudioDevice{
		SampleRate:      SampleRate,
		FramesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

func (d *PortAudioDevice) Acquire(
	ctx context.Context,
	c Constraints,
) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}

	src := &portAudioSource{}

	stream, err := portaudio.OpenDefaultStream(
		Channels,
		0,
		d.SampleRate,
		d.FramesPerBuffer,
		src.callback,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	src.stream = stream

	// PortAudio has no switches for these; the OS input chain decides.
	d.logger.Debug(
		"mic",
		"device", device.Name,
		"rate", d.SampleRate,
		"frames", d.FramesPerBuffer,
		"aec", c.EchoCancellation,
		"ns", c.NoiseSuppression,
		"agc", c.AutoGainControl,
	)

	return src, nil
}

type portAudioSource struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	sink      atomic.Pointer[func([]float32)]
	connected bool
	closed    bool
}

func (s *portAudioSource) callback(in []float32) {
	if fn := s.sink.Load(); fn != nil {
		(*fn)(in)
	}
}

func (s *portAudioSource) Connect(fn func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.connected {
		return nil
	}

	s.sink.Store(&fn)
	if err := s.stream.Start(); err != nil {
		s.sink.Store(nil)
		return fmt.Errorf("start input stream: %w", err)
	}
	s.connected = true
	return nil
}

func (s *portAudioSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	s.sink.Store(nil)
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop input stream: %w", err)
	}
	return nil
}

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sink.Store(nil)

	var err error
	if s.connected {
		s.connected = false
		if abortErr := s.stream.Abort(); abortErr != nil {
			err = multierr.Append(err, fmt.Errorf("abort input stream: %w", abortErr))
		}
	}
	if closeErr := s.stream.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close input stream: %w", closeErr))
	}
	if termErr := portaudio.Terminate(); termErr != nil {
		err = multierr.Append(err, fmt.Errorf("terminate portaudio: %w", termErr))
	}
	return err
}

// InputDevice describes a capture-capable device.
type InputDevice struct {
	Index             int
	Name              string
	HostAPI           string
	Channels          int
	DefaultSampleRate float64
	IsDefault         bool
}

func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}

	var devices []InputDevice
	for i, info := range all {
		if info.MaxInputChannels == 0 {
			continue
		}
		hostAPI := ""
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		devices = append(devices, InputDevice{
			Index:             i,
			Name:              info.Name,
			HostAPI:           hostAPI,
			Channels:          info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefault:         info.Name == defaultName,
		})
	}
	return devices, nil
}
