package handsfree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hark/internal/audio"
	"hark/internal/config"
	"hark/internal/dispatch"
	"hark/internal/turn"
)

var (
	ErrModeConflict  = errors.New("hands-free and push-to-talk are mutually exclusive")
	ErrConfirmRawMic = errors.New("raw microphone in hands-free mode disables echo cancellation and may hear the agent; confirm to continue")
	ErrNotRunning    = errors.New("not running")
)

const eventBuffer = 64

// Status is a point-in-time view of the controller.
type Status struct {
	HandsFree bool    `json:"handsfree"`
	Raw       bool    `json:"raw"`
	Talking   bool    `json:"talking"`
	State     string  `json:"state"`
	RMS       float64 `json:"rms"`
	Threshold float64 `json:"threshold"`
	Dropped   uint64  `json:"dropped_events,omitempty"`
}

// talk is an open push-to-talk recording.
type talk struct {
	capture  *audio.Capture
	startAbs int64
}

// Controller is the inbound control surface. It owns at most one hands-free
// session or one push-to-talk recording at a time.
type Controller struct {
	deps Deps
	// Playback is stopped by StopPlayback; may be nil.
	playback turn.Playback
	chime    func()

	ctx    context.Context
	cancel context.CancelFunc
	bus    *bus

	mu      sync.Mutex
	vad     config.VAD
	capCfg  audio.CaptureConfig
	session *Session
	talk    *talk
}

type ControllerConfig struct {
	VAD     config.VAD
	Capture audio.CaptureConfig
	// Playback is the agent's voice, stopped by StopPlayback.
	Playback turn.Playback
	// Chime, if set, is played when push-to-talk starts.
	Chime func()
}

func NewController(cfg ControllerConfig, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	deps.Lifecycle.SetPendingFallback(cfg.VAD.PendingFallback)
	return &Controller{
		deps:     deps,
		playback: cfg.Playback,
		chime:    cfg.Chime,
		ctx:      ctx,
		cancel:   cancel,
		bus:      newBus(eventBuffer),
		vad:      cfg.VAD,
		capCfg:   cfg.Capture,
	}
}

// Events delivers status events. Events are dropped while the channel is full.
func (c *Controller) Events() <-chan Event { return c.bus.ch }

// Publish injects an event, typically relayed from the reply side.
func (c *Controller) Publish(ev Event) { c.bus.publish(ev) }

func (c *Controller) SetHandsFree(_ context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !on {
		return c.stopSessionLocked()
	}
	if c.talk != nil {
		return ErrModeConflict
	}
	if c.session != nil {
		return nil
	}
	return c.startSessionLocked()
}

// SetRawMic selects the raw device. Enabling it during hands-free requires
// confirmed, since the agent's own voice is no longer cancelled.
func (c *Controller) SetRawMic(_ context.Context, on, confirmed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if on && c.session != nil && !confirmed {
		return ErrConfirmRawMic
	}
	if c.capCfg.Raw == on {
		return nil
	}
	c.capCfg.Raw = on
	if on && c.session != nil {
		c.bus.publish(Event{Kind: KindWarning, Message: config.RawHandsFreeWarning})
	}
	return c.restartLocked()
}

// StartTalk begins a push-to-talk recording, cutting off the agent if it is
// speaking.
func (c *Controller) StartTalk(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrModeConflict
	}
	if c.talk != nil {
		return nil
	}

	now := time.Now()
	if c.deps.Lifecycle.Interrupt(now) {
		c.bus.publish(Event{At: now, Kind: KindState, State: StateInterrupted})
	}
	if c.chime != nil {
		c.chime()
	}

	capCfg := c.capCfg
	capCfg.FrameSize = c.vad.FrameSize
	capCfg.RingKeep = c.vad.RingKeep
	capture, err := audio.OpenCapture(c.deps.Opener, capCfg, c.deps.Log)
	if err != nil {
		c.bus.publish(Event{Kind: KindError, Message: err.Error()})
		return err
	}
	if err := capture.Start(); err != nil {
		_ = capture.Close()
		c.bus.publish(Event{Kind: KindError, Message: err.Error()})
		return err
	}

	c.talk = &talk{capture: capture, startAbs: capture.Ring().WriteAbs()}
	c.bus.publish(Event{Kind: KindState, State: StateRecording})
	c.deps.Log.Info("push-to-talk recording", "rate", capture.SampleRate())
	return nil
}

// StopTalk closes the push-to-talk recording and dispatches it. A recording
// below the minimum size yields audio.ErrUtteranceTooShort.
func (c *Controller) StopTalk(_ context.Context) error {
	c.mu.Lock()
	t := c.talk
	c.talk = nil
	vad := c.vad
	c.mu.Unlock()

	if t == nil {
		return ErrNotRunning
	}

	u := audio.Utterance{
		ID:         uuid.NewString(),
		StartAbs:   t.startAbs,
		EndAbs:     t.capture.Ring().WriteAbs(),
		SampleRate: t.capture.SampleRate(),
	}
	enc := audio.Encoder{Ring: t.capture.Ring(), TargetRate: vad.TargetRate, MinBytes: vad.MinUtteranceBytes}
	data, encErr := enc.Encode(u)
	if err := t.capture.Close(); err != nil {
		c.deps.Log.Warn("close microphone", "err", err)
	}

	if encErr != nil {
		c.bus.publish(Event{Kind: KindState, State: StateOff})
		if errors.Is(encErr, audio.ErrUtteranceTooShort) {
			c.bus.publish(Event{Kind: KindWarning, Message: "Audio too short, try again"})
		}
		return encErr
	}

	c.deps.Lifecycle.ResponsePending(time.Now())
	c.bus.publish(Event{Kind: KindState, State: StateThinking})
	c.deps.Log.Info("push-to-talk captured", "id", u.ID, "duration", u.Duration(), "bytes", len(data))

	p := dispatch.Payload{ID: u.ID, Audio: data, Duration: u.Duration()}
	go sendUtterance(c.ctx, c.deps, c.bus.publish, p)
	return nil
}

// StopPlayback silences the agent. Unlike a barge-in this counts as a normal
// end of the response, so the post-playback cooldown applies.
func (c *Controller) StopPlayback() {
	if c.playback != nil {
		c.playback.Stop()
	}
	c.deps.Lifecycle.ResponseEnded(time.Now())
}

// Reconfigure swaps the detection parameters, restarting an active session.
func (c *Controller) Reconfigure(vad config.VAD) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vad = vad
	c.deps.Lifecycle.SetPendingFallback(vad.PendingFallback)
	return c.restartLocked()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		HandsFree: c.session != nil,
		Raw:       c.capCfg.Raw,
		Talking:   c.talk != nil,
		State:     StateOff,
		Dropped:   c.bus.dropped.Load(),
	}
	switch {
	case c.session != nil:
		snap := c.session.snapshot()
		st.State = snap.state
		st.RMS = snap.rms
		st.Threshold = snap.threshold
	case c.talk != nil:
		st.State = StateRecording
		st.RMS = c.talk.capture.Loudness()
	}
	return st
}

// Close stops whatever is running and abandons in-flight dispatches.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.stopSessionLocked(); err != nil {
		errs = append(errs, err)
	}
	if c.talk != nil {
		errs = append(errs, c.talk.capture.Close())
		c.talk = nil
	}
	c.cancel()
	return errors.Join(errs...)
}

func (c *Controller) startSessionLocked() error {
	if c.capCfg.Raw {
		c.deps.Log.Warn(config.RawHandsFreeWarning)
	}
	s, err := StartSession(c.ctx, c.vad, c.capCfg, c.deps, c.bus.publish)
	if err != nil {
		c.bus.publish(Event{Kind: KindError, Message: err.Error()})
		return fmt.Errorf("start hands-free: %w", err)
	}
	c.session = s
	return nil
}

func (c *Controller) stopSessionLocked() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Stop()
	c.session = nil
	c.deps.Log.Info("hands-free stopped")
	return err
}

func (c *Controller) restartLocked() error {
	if c.session == nil {
		return nil
	}
	if err := c.stopSessionLocked(); err != nil {
		c.deps.Log.Warn("stop session", "err", err)
	}
	return c.startSessionLocked()
}
