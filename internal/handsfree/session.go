// Package handsfree runs the microphone side of a conversation: it listens
// continuously, cuts the user's speech into utterances and hands them to the
// backend, while staying quiet whenever the agent holds the floor.
package handsfree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hark/internal/audio"
	"hark/internal/config"
	"hark/internal/dispatch"
	"hark/internal/metrics"
	"hark/internal/turn"
)

// Deps are the long-lived collaborators shared by every session.
type Deps struct {
	Opener     audio.StreamOpener
	Lifecycle  *turn.Lifecycle
	Dispatcher dispatch.Dispatcher
	// Metrics is optional.
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// snapshot is what Status reports about a running session.
type snapshot struct {
	state     string
	rms       float64
	threshold float64
}

// Session is one hands-free listening run. It is started once and is terminal
// after Stop.
type Session struct {
	deps    Deps
	vad     config.VAD
	publish func(Event)
	// dispatchCtx outlives the session so replies already requested still arrive
	dispatchCtx context.Context

	capture  *audio.Capture
	detector audio.EnergyDetector
	machine  *turn.Machine
	barge    *turn.BargeIn
	encoder  *audio.Encoder

	lastMeter time.Time
	uiState   string

	mu   sync.Mutex
	snap snapshot

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// openSession opens the microphone and builds the detection pipeline without
// starting anything.
func openSession(dispatchCtx context.Context, vad config.VAD, capCfg audio.CaptureConfig, deps Deps, publish func(Event)) (*Session, error) {
	capCfg.FrameSize = vad.FrameSize
	capCfg.RingKeep = vad.RingKeep

	capture, err := audio.OpenCapture(deps.Opener, capCfg, deps.Log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		deps:        deps,
		vad:         vad,
		publish:     publish,
		dispatchCtx: dispatchCtx,
		capture:     capture,
		detector: audio.EnergyDetector{
			Threshold:        vad.Threshold,
			RawThreshold:     vad.RawThreshold,
			BargeInThreshold: vad.BargeInThreshold,
		},
		machine: turn.NewMachine(turn.Config{
			MinSpeech:      vad.MinSpeech,
			EndSilence:     vad.EndSilence,
			MaxUtterance:   vad.MaxUtterance,
			Cooldown:       vad.PostTTSCooldown,
			PrerollSamples: capture.PrerollSamples(vad.Preroll),
		}),
		barge: &turn.BargeIn{Threshold: vad.BargeInThreshold, Delay: vad.BargeInDelay},
		encoder: &audio.Encoder{
			Ring:       capture.Ring(),
			TargetRate: vad.TargetRate,
			MinBytes:   vad.MinUtteranceBytes,
		},
		done: make(chan struct{}),
	}
	return s, nil
}

// StartSession opens the microphone and starts polling it.
func StartSession(dispatchCtx context.Context, vad config.VAD, capCfg audio.CaptureConfig, deps Deps, publish func(Event)) (*Session, error) {
	s, err := openSession(dispatchCtx, vad, capCfg, deps, publish)
	if err != nil {
		return nil, err
	}
	if err := s.capture.Start(); err != nil {
		_ = s.capture.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)

	s.deps.Log.Info("hands-free listening",
		"rate", s.capture.SampleRate(),
		"raw", s.capture.Raw(),
		"threshold", s.detector.ActiveThreshold(s.capture.Raw()),
	)
	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.vad.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// Stop halts polling and releases the microphone. Safe to call more than once.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		err = s.capture.Close()
		s.setUIState(StateOff, time.Now())
	})
	return err
}

// tick is one poll of the loop.
func (s *Session) tick(now time.Time) {
	lc := s.deps.Lifecycle
	raw := s.capture.Raw()
	rms := s.capture.Loudness()
	floor := lc.Floor(now)

	if floor.PendingExpired {
		s.deps.Log.Debug("no playback after dispatch, releasing the floor")
		if m := s.deps.Metrics; m != nil {
			m.PendingFallbacks.Inc()
		}
	}

	if s.barge.Step(now, rms, floor.Playing) {
		lc.Interrupt(now)
		s.deps.Log.Info("barge-in, playback interrupted", "rms", rms)
		if m := s.deps.Metrics; m != nil {
			m.BargeIns.Inc()
		}
		s.setUIState(StateInterrupted, now)
		floor = lc.Floor(now)
	}

	d := s.machine.Step(turn.Input{
		Now:      now,
		Loud:     s.detector.Loud(rms, raw),
		WriteAbs: s.capture.Ring().WriteAbs(),
		Floor:    floor,
	})

	if d.Abandoned {
		s.deps.Log.Debug("recording abandoned", "from", d.Prev, "to", d.State)
		if m := s.deps.Metrics; m != nil {
			m.Utterances.WithLabelValues(metrics.OutcomeAbandoned).Inc()
		}
	}
	if d.Started {
		s.deps.Log.Debug("speech started", "rms", rms)
	}
	if d.Span != nil {
		s.finalize(now, *d.Span)
		floor = lc.Floor(now)
	}

	s.setUIState(uiState(s.machine.State(), floor), now)
	s.meter(now, rms, raw)
}

func (s *Session) finalize(now time.Time, span turn.Span) {
	u := audio.Utterance{
		ID:         uuid.NewString(),
		StartAbs:   span.StartAbs,
		EndAbs:     span.EndAbs,
		SampleRate: s.capture.SampleRate(),
		HandsFree:  true,
	}
	data, err := s.encoder.Encode(u)
	if err != nil {
		s.reject(u, err)
		return
	}

	s.deps.Lifecycle.ResponsePending(now)
	if m := s.deps.Metrics; m != nil {
		m.Utterances.WithLabelValues(metrics.OutcomeDispatched).Inc()
		m.UtteranceDuration.Observe(u.Duration().Seconds())
		m.UtteranceBytes.Observe(float64(len(data)))
	}
	s.deps.Log.Info("utterance captured",
		"id", u.ID,
		"duration", u.Duration(),
		"speech", span.SpeechDur,
		"bytes", len(data),
	)

	p := dispatch.Payload{ID: u.ID, Audio: data, HandsFree: true, Duration: u.Duration()}
	go sendUtterance(s.dispatchCtx, s.deps, s.publish, p)
}

func (s *Session) reject(u audio.Utterance, err error) {
	if errors.Is(err, audio.ErrUtteranceTooShort) {
		s.deps.Log.Warn("utterance dropped", "id", u.ID, "err", err)
		if m := s.deps.Metrics; m != nil {
			m.Utterances.WithLabelValues(metrics.OutcomeTooShort).Inc()
		}
		s.publish(Event{Kind: KindWarning, Message: "Audio too short, try again"})
		return
	}
	s.deps.Log.Error("encode utterance", "id", u.ID, "err", err)
	s.publish(Event{Kind: KindError, Message: err.Error()})
}

// sendUtterance delivers one payload. Failures surface as events; the turn
// machine has already moved on, and the pending fallback releases the floor.
func sendUtterance(ctx context.Context, deps Deps, publish func(Event), p dispatch.Payload) {
	start := time.Now()
	err := deps.Dispatcher.Dispatch(ctx, p)
	if m := deps.Metrics; m != nil {
		m.DispatchDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}
	if m := deps.Metrics; m != nil {
		m.DispatchErrors.Inc()
	}
	deps.Log.Error("dispatch failed", "id", p.ID, "err", err)
	publish(Event{Kind: KindError, Message: fmt.Sprintf("could not send audio: %v", err)})
}

func uiState(st turn.State, floor turn.Floor) string {
	switch st {
	case turn.Recording:
		return StateRecording
	case turn.Sending:
		return StateThinking
	case turn.SpeakWait:
		if floor.Pending && !floor.Playing {
			return StateThinking
		}
		return StateSpeaking
	default:
		return StateListening
	}
}

func (s *Session) setUIState(state string, now time.Time) {
	s.mu.Lock()
	s.snap.state = state
	s.mu.Unlock()

	if state == s.uiState {
		return
	}
	s.uiState = state
	if m := s.deps.Metrics; m != nil {
		m.SetState(state, AllStates)
	}
	s.publish(Event{At: now, Kind: KindState, State: state})
}

func (s *Session) meter(now time.Time, rms float64, raw bool) {
	threshold := s.detector.ActiveThreshold(raw)

	s.mu.Lock()
	s.snap.rms = rms
	s.snap.threshold = threshold
	s.mu.Unlock()

	if m := s.deps.Metrics; m != nil {
		m.Loudness.Set(rms)
	}
	if now.Sub(s.lastMeter) < s.vad.MeterInterval {
		return
	}
	s.lastMeter = now
	s.publish(Event{At: now, Kind: KindMeter, RMS: rms, Threshold: threshold})
}

func (s *Session) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
