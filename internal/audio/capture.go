package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

var ErrDeviceNotFound = errors.New("input device not found")

// InputStream is a started-on-demand microphone stream that delivers samples to
// the callback it was opened with.
type InputStream interface {
	Start() error
	Stop() error
	Close() error
}

// StreamOpener opens a mono input stream on the named device ("" is the system
// default) and reports the sample rate the device runs at.
type StreamOpener interface {
	OpenInput(device string, onSamples func([]float32)) (InputStream, int, error)
}

// PortAudio opens input streams through the portaudio host API.
type PortAudio struct{}

func (PortAudio) Init() error { return portaudio.Initialize() }

func (PortAudio) Terminate() error { return portaudio.Terminate() }

func (PortAudio) OpenInput(device string, onSamples func([]float32)) (InputStream, int, error) {
	dev, err := findInputDevice(device)
	if err != nil {
		return nil, 0, err
	}

	p := portaudio.LowLatencyParameters(dev, nil)
	p.Input.Channels = 1

	stream, err := portaudio.OpenStream(p, func(in []float32) {
		onSamples(in)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("open input %q: %w", dev.Name, err)
	}
	return stream, int(p.SampleRate), nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	return pickInputDevice(devs, name)
}

// pickInputDevice returns the first capture-capable device whose name contains
// name, case-insensitively.
func pickInputDevice(devs []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	want := strings.ToLower(name)
	for _, d := range devs {
		if d == nil || d.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

type CaptureConfig struct {
	// Device is used for processed capture, RawDevice when Raw is set.
	Device    string
	RawDevice string
	Raw       bool
	FrameSize int
	RingKeep  time.Duration
}

// Capture owns one open microphone stream and the ring it feeds. The stream
// callback is the ring's only writer.
type Capture struct {
	log    *slog.Logger
	stream InputStream
	ring   *RingBuffer
	rate   int
	cfg    CaptureConfig

	mu      sync.Mutex
	started bool
	closed  bool
}

// OpenCapture opens the device selected by cfg. The stream is not started.
func OpenCapture(opener StreamOpener, cfg CaptureConfig, log *slog.Logger) (*Capture, error) {
	if cfg.FrameSize <= 0 {
		return nil, errors.New("frame size must be positive")
	}

	c := &Capture{log: log, cfg: cfg}
	device := cfg.Device
	if cfg.Raw {
		device = cfg.RawDevice
	}

	stream, rate, err := opener.OpenInput(device, func(in []float32) {
		c.ring.Append(in)
	})
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if rate <= 0 {
		_ = stream.Close()
		return nil, fmt.Errorf("device reported sample rate %d", rate)
	}

	c.stream = stream
	c.rate = rate
	c.ring = NewRingBuffer(RingCapacity(cfg.RingKeep, rate))

	log.Debug("microphone opened",
		"device", device,
		"raw", cfg.Raw,
		"rate", rate,
		"ring", c.ring.Cap(),
	)
	return c, nil
}

func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture closed")
	}
	if c.started {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	c.started = true
	return nil
}

// Close stops and releases the stream. Further calls are no-ops.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.started {
		if err := c.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop microphone: %w", err))
		}
	}
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close microphone: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Capture) Ring() *RingBuffer { return c.ring }
func (c *Capture) SampleRate() int   { return c.rate }
func (c *Capture) Raw() bool         { return c.cfg.Raw }

// PrerollSamples converts a lead-in duration to samples at the capture rate.
func (c *Capture) PrerollSamples(d time.Duration) int64 {
	return int64(d.Seconds() * float64(c.rate))
}

// Loudness is the RMS of the most recent analysis frame.
func (c *Capture) Loudness() float64 {
	return RMS(c.ring.Latest(c.cfg.FrameSize))
}
