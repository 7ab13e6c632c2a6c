package handsfree

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hark/internal/audio"
	"hark/internal/config"
	"hark/internal/dispatch"
	"hark/internal/metrics"
	"hark/internal/turn"
	"hark/pkg/audioconv"
)

const rate = 16000

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type nopStream struct{}

func (nopStream) Start() error { return nil }
func (nopStream) Stop() error  { return nil }
func (nopStream) Close() error { return nil }

type fakeMic struct {
	mu      sync.Mutex
	devices []string
	feed    func([]float32)
}

func (m *fakeMic) OpenInput(device string, cb func([]float32)) (audio.InputStream, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, device)
	m.feed = cb
	return nopStream{}, rate, nil
}

func (m *fakeMic) push(level float32, n int) {
	m.mu.Lock()
	feed := m.feed
	m.mu.Unlock()
	buf := make([]float32, n)
	for i := range buf {
		if i%2 == 0 {
			buf[i] = level
		} else {
			buf[i] = -level
		}
	}
	feed(buf)
}

func (m *fakeMic) lastDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[len(m.devices)-1]
}

type fakePlayback struct{ playing atomic.Bool }

func (p *fakePlayback) IsPlaying() bool { return p.playing.Load() }
func (p *fakePlayback) Stop()           { p.playing.Store(false) }

type sent struct {
	mu       sync.Mutex
	payloads []dispatch.Payload
}

func (s *sent) Dispatch(_ context.Context, p dispatch.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *sent) all() []dispatch.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Payload(nil), s.payloads...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Kind == KindState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (l *eventLog) kinds(k Kind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testVAD() config.VAD {
	v := config.DefaultVAD()
	v.FrameSize = 256
	return v
}

type rig struct {
	mic  *fakeMic
	lc   *turn.Lifecycle
	out  *sent
	m    *metrics.Metrics
	ev   *eventLog
	deps Deps
}

func newRig() *rig {
	r := &rig{
		mic: &fakeMic{},
		lc:  turn.NewLifecycle(2 * time.Second),
		out: &sent{},
		m:   metrics.New(),
		ev:  &eventLog{},
	}
	r.deps = Deps{Opener: r.mic, Lifecycle: r.lc, Dispatcher: r.out, Metrics: r.m, Log: discard()}
	return r
}

// drive feeds the microphone one poll's worth of samples and ticks the session,
// for d of simulated time.
func drive(s *Session, mic *fakeMic, at *time.Time, d time.Duration, level float32) {
	const poll = time.Second / 60
	for end := at.Add(d); at.Before(end); *at = at.Add(poll) {
		mic.push(level, rate/60)
		s.tick(*at)
	}
}

func TestSession_UtteranceDispatched(t *testing.T) {
	r := newRig()
	s, err := openSession(context.Background(), testVAD(), audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	at := t0
	drive(s, r.mic, &at, time.Second, 0)
	drive(s, r.mic, &at, 1200*time.Millisecond, 0.2)
	drive(s, r.mic, &at, 2*time.Second, 0)

	require.Eventually(t, func() bool { return len(r.out.all()) == 1 }, time.Second, 5*time.Millisecond)
	p := r.out.all()[0]
	assert.True(t, p.HandsFree)
	assert.NotEmpty(t, p.ID)

	info, err := audioconv.ReadWAVInfo(p.Audio)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)
	// preroll plus speech plus the trailing silence
	assert.InDelta(t, 3.3, p.Duration.Seconds(), 0.1)

	assert.Equal(t, []string{StateListening, StateRecording, StateThinking}, r.ev.states())
	assert.True(t, r.lc.Floor(at).Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.Utterances.WithLabelValues(metrics.OutcomeDispatched)))
}

func TestSession_NothingWhileAgentSpeaks(t *testing.T) {
	r := newRig()
	vad := testVAD()
	vad.BargeInThreshold = 0.5
	s, err := openSession(context.Background(), vad, audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	r.lc.SpeechStarted(t0)
	at := t0
	drive(s, r.mic, &at, 3*time.Second, 0.2)
	assert.Equal(t, []string{StateSpeaking}, r.ev.states())

	// cooldown, then the user is heard again
	r.lc.ResponseEnded(at)
	drive(s, r.mic, &at, 400*time.Millisecond, 0.2)
	assert.Equal(t, StateSpeaking, s.snapshot().state)
	drive(s, r.mic, &at, 200*time.Millisecond, 0.2)
	assert.Equal(t, StateRecording, s.snapshot().state)
	assert.Empty(t, r.out.all())
}

func TestSession_TooShort(t *testing.T) {
	r := newRig()
	vad := testVAD()
	vad.MinUtteranceBytes = 1 << 20
	s, err := openSession(context.Background(), vad, audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	at := t0
	drive(s, r.mic, &at, time.Second, 0.2)
	drive(s, r.mic, &at, 2*time.Second, 0)

	assert.Empty(t, r.out.all())
	require.Len(t, r.ev.kinds(KindWarning), 1)
	assert.False(t, r.lc.Floor(at).Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.Utterances.WithLabelValues(metrics.OutcomeTooShort)))
	assert.Equal(t, StateListening, s.snapshot().state)
}

func TestSession_BargeIn(t *testing.T) {
	r := newRig()
	pb := &fakePlayback{}
	pb.playing.Store(true)
	r.lc.SetPlayback(pb)
	r.lc.SpeechStarted(t0)

	vad := testVAD()
	vad.BargeInDelay = 200 * time.Millisecond
	s, err := openSession(context.Background(), vad, audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	at := t0
	drive(s, r.mic, &at, 150*time.Millisecond, 0.05)
	assert.True(t, pb.IsPlaying())

	drive(s, r.mic, &at, 200*time.Millisecond, 0.05)
	assert.False(t, pb.IsPlaying())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.BargeIns))
	assert.Contains(t, r.ev.states(), StateInterrupted)
	// no cooldown after an interrupt: the interrupting speech is recorded
	assert.Equal(t, StateRecording, s.snapshot().state)
}

func TestSession_PendingFallbackReleasesFloor(t *testing.T) {
	r := newRig()
	s, err := openSession(context.Background(), testVAD(), audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	r.lc.ResponsePending(t0)
	at := t0
	drive(s, r.mic, &at, 1500*time.Millisecond, 0)
	assert.Equal(t, StateThinking, s.snapshot().state)

	drive(s, r.mic, &at, time.Second, 0)
	assert.Equal(t, StateListening, s.snapshot().state)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.PendingFallbacks))
}

func TestSession_MeterThrottled(t *testing.T) {
	r := newRig()
	s, err := openSession(context.Background(), testVAD(), audio.CaptureConfig{}, r.deps, r.ev.publish)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	at := t0
	drive(s, r.mic, &at, 2500*time.Millisecond, 0.01)

	meters := r.ev.kinds(KindMeter)
	assert.Len(t, meters, 3)
	assert.InDelta(t, 0.01, meters[0].RMS, 1e-6)
	assert.Equal(t, 0.025, meters[0].Threshold)
}

func newController(r *rig, pb turn.Playback) *Controller {
	c := NewController(ControllerConfig{
		VAD:      testVAD(),
		Capture:  audio.CaptureConfig{Device: "pulse", RawDevice: "hw:1,0"},
		Playback: pb,
	}, r.deps)
	return c
}

func TestController_ModesAreExclusive(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.SetHandsFree(ctx, true))
	assert.ErrorIs(t, c.StartTalk(ctx), ErrModeConflict)
	assert.True(t, c.Status().HandsFree)

	require.NoError(t, c.SetHandsFree(ctx, false))
	require.NoError(t, c.StartTalk(ctx))
	assert.ErrorIs(t, c.SetHandsFree(ctx, true), ErrModeConflict)

	st := c.Status()
	assert.True(t, st.Talking)
	assert.Equal(t, StateRecording, st.State)
}

func TestController_RawMicNeedsConfirmation(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.SetHandsFree(ctx, true))
	assert.Equal(t, "pulse", r.mic.lastDevice())

	assert.ErrorIs(t, c.SetRawMic(ctx, true, false), ErrConfirmRawMic)
	assert.False(t, c.Status().Raw)

	require.NoError(t, c.SetRawMic(ctx, true, true))
	assert.True(t, c.Status().Raw)
	assert.Equal(t, "hw:1,0", r.mic.lastDevice(), "session restarted on the raw device")

	var warned bool
	for _, ev := range drainEvents(c) {
		if ev.Kind == KindWarning && ev.Message == config.RawHandsFreeWarning {
			warned = true
		}
	}
	assert.True(t, warned)

	// turning raw off never needs confirmation
	require.NoError(t, c.SetRawMic(ctx, false, false))
	assert.Equal(t, "pulse", r.mic.lastDevice())
}

func TestController_RawMicOutsideHandsFree(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.SetRawMic(context.Background(), true, false))
	require.NoError(t, c.StartTalk(context.Background()))
	assert.Equal(t, "hw:1,0", r.mic.lastDevice())
}

func TestController_PushToTalk(t *testing.T) {
	r := newRig()
	pb := &fakePlayback{}
	pb.playing.Store(true)
	r.lc.SetPlayback(pb)
	r.lc.SpeechStarted(time.Now())

	var chimes int
	c := NewController(ControllerConfig{VAD: testVAD(), Playback: pb, Chime: func() { chimes++ }}, r.deps)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	assert.ErrorIs(t, c.StopTalk(ctx), ErrNotRunning)

	require.NoError(t, c.StartTalk(ctx))
	assert.False(t, pb.IsPlaying(), "talking cuts the agent off")
	assert.Equal(t, 1, chimes)

	r.mic.push(0.1, rate)
	require.NoError(t, c.StopTalk(ctx))

	require.Eventually(t, func() bool { return len(r.out.all()) == 1 }, time.Second, 5*time.Millisecond)
	p := r.out.all()[0]
	assert.False(t, p.HandsFree)
	assert.Equal(t, time.Second, p.Duration)
	assert.Len(t, p.Audio, audioconv.WAVHeaderSize+2*rate)
	assert.True(t, r.lc.Floor(time.Now()).Pending)
	assert.False(t, c.Status().Talking)
}

func TestController_PushToTalkTooShort(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.StartTalk(ctx))
	r.mic.push(0.1, 100)
	assert.ErrorIs(t, c.StopTalk(ctx), audio.ErrUtteranceTooShort)
	assert.Empty(t, r.out.all())
	assert.False(t, r.lc.Floor(time.Now()).Pending)
}

func TestController_StopPlayback(t *testing.T) {
	r := newRig()
	pb := &fakePlayback{}
	pb.playing.Store(true)
	c := newController(r, pb)
	t.Cleanup(func() { _ = c.Close() })
	r.lc.SpeechStarted(time.Now())

	c.StopPlayback()
	now := time.Now()
	f := r.lc.Floor(now)
	assert.False(t, pb.IsPlaying())
	assert.False(t, f.Playing)
	assert.True(t, f.InCooldown(now, 500*time.Millisecond))
}

func TestController_ReconfigureRestartsSession(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Reconfigure(testVAD()))
	assert.Empty(t, r.mic.devices, "nothing to restart")

	require.NoError(t, c.SetHandsFree(context.Background(), true))
	vad := testVAD()
	vad.Threshold = 0.05
	require.NoError(t, c.Reconfigure(vad))
	assert.Len(t, r.mic.devices, 2)
	assert.True(t, c.Status().HandsFree)
}

func TestController_StatusWhenIdle(t *testing.T) {
	r := newRig()
	c := newController(r, nil)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, Status{State: StateOff}, c.Status())
}

// drainEvents returns what is buffered on the event channel without blocking.
func drainEvents(c *Controller) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
