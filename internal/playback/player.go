// Package playback voices the agent's replies through the system speaker.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"

	"hark/pkg/audioconv"
)

// Signals receives the playback side of the turn lifecycle.
type Signals interface {
	SpeechStarted(now time.Time)
	ResponseEnded(now time.Time)
}

type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

// Output is where streamers end up. The speaker in production.
type Output interface {
	Play(s beep.Streamer)
	Clear()
}

type speakerOutput struct{}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerOutput) Clear()               { speaker.Clear() }

var speakerOnce struct {
	sync.Once
	err error
}

// InitSpeaker opens the default output device. Only the first call has effect;
// the speaker package supports a single device per process.
func InitSpeaker(rate int) (Output, error) {
	speakerOnce.Do(func() {
		sr := beep.SampleRate(rate)
		speakerOnce.err = speaker.Init(sr, sr.N(100*time.Millisecond))
	})
	if speakerOnce.err != nil {
		return nil, fmt.Errorf("init speaker: %w", speakerOnce.err)
	}
	return speakerOutput{}, nil
}

type Config struct {
	SampleRate int
	// Volume is a gain in doublings: 0 unchanged, -1 half, 1 double.
	Volume float64
}

// Player plays one reply at a time. Starting a new reply replaces the current
// one. Safe for concurrent use.
type Player struct {
	cfg     Config
	out     Output
	signals Signals
	ducker  Ducker
	log     *slog.Logger
	now     func() time.Time

	duckMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	playing bool
}

func NewPlayer(cfg Config, out Output, signals Signals, log *slog.Logger) *Player {
	return &Player{
		cfg:     cfg,
		out:     out,
		signals: signals,
		log:     log.With("component", "player"),
		now:     time.Now,
	}
}

// SetDucker enables lowering other applications while a reply plays.
func (p *Player) SetDucker(d Ducker) { p.ducker = d }

// Play decodes an encoded reply clip and starts voicing it. Empty clips are
// ignored.
func (p *Player) Play(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	samples, err := audioconv.Decode(data, p.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("decode reply audio: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	wasPlaying := p.playing
	p.playing = true
	p.mu.Unlock()

	if wasPlaying {
		p.out.Clear()
	}

	p.signals.SpeechStarted(p.now())
	if !wasPlaying {
		p.syncDuck()
	}

	p.log.Debug("playing reply",
		"samples", len(samples),
		"duration", time.Duration(len(samples))*time.Second/time.Duration(p.cfg.SampleRate),
	)

	p.out.Play(beep.Seq(
		p.withVolume(monoStreamer(samples)),
		beep.Callback(func() { p.finished(gen) }),
	))
	return nil
}

// PlayCue plays a short notification sound. Cues do not touch the turn lifecycle.
func (p *Player) PlayCue(s beep.Streamer, rate beep.SampleRate) {
	target := beep.SampleRate(p.cfg.SampleRate)
	if rate != target {
		s = beep.Resample(4, rate, target, s)
	}
	p.out.Play(p.withVolume(s))
}

// IsPlaying reports whether a reply is being voiced.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop silences the current reply. It does not signal ResponseEnded; whoever
// stops playback owns that transition.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	was := p.playing
	p.playing = false
	p.mu.Unlock()

	p.out.Clear()
	if was {
		p.syncDuck()
	}
}

func (p *Player) finished(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.mu.Unlock()

	p.signals.ResponseEnded(p.now())
	p.syncDuck()
}

func (p *Player) withVolume(s beep.Streamer) beep.Streamer {
	if p.cfg.Volume == 0 {
		return s
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: p.cfg.Volume}
}

// syncDuck brings other applications' volume in line with whether a reply is
// playing at the time the goroutine runs.
func (p *Player) syncDuck() {
	if p.ducker == nil {
		return
	}
	go func() {
		p.duckMu.Lock()
		defer p.duckMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if p.IsPlaying() {
			if err := p.ducker.Duck(ctx); err != nil {
				p.log.Warn("duck failed", "err", err)
			}
			return
		}
		if err := p.ducker.Unduck(ctx); err != nil {
			p.log.Warn("unduck failed", "err", err)
		}
	}()
}

func monoStreamer(x []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(x) {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < len(x) {
			v := float64(x[pos])
			out[n][0], out[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})
}
