package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hark/pkg/audioconv"
)

// TranscribeFunc turns mono samples at rate into text.
type TranscribeFunc func(ctx context.Context, pcm []float32) (string, error)

type Replier interface {
	Reply(ctx context.Context, transcript string) (string, error)
}

// Voice speaks a reply, returning encoded audio.
type Voice interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Local answers utterances on this machine. Without a voice replies are text
// only, and the turn lifecycle releases the floor through its pending fallback.
type Local struct {
	transcribe TranscribeFunc
	rate       int
	agent      Replier
	voice      Voice
	timeout    time.Duration
	ev         Events
	log        *slog.Logger
}

func NewLocal(transcribe TranscribeFunc, rate int, agent Replier, timeout time.Duration, ev Events, log *slog.Logger) *Local {
	return &Local{
		transcribe: transcribe,
		rate:       rate,
		agent:      agent,
		timeout:    timeout,
		ev:         ev,
		log:        log.With("component", "local"),
	}
}

// SetVoice makes replies spoken. Call before the first Dispatch.
func (l *Local) SetVoice(v Voice) { l.voice = v }

func (l *Local) Dispatch(ctx context.Context, p Payload) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	pcm, err := audioconv.Decode(p.Audio, l.rate)
	if err != nil {
		return fmt.Errorf("decode utterance %s: %w", p.ID, err)
	}

	l.ev.status("Transcribing...")
	start := time.Now()
	text, err := l.transcribe(ctx, pcm)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", p.ID, err)
	}
	text = strings.TrimSpace(text)
	l.log.Debug("transcribed", "id", p.ID, "took", time.Since(start), "chars", len(text))
	if text == "" {
		l.ev.status("Nothing heard")
		return nil
	}
	l.ev.message("user", text)

	if l.agent == nil {
		return errors.New("no agent configured")
	}
	l.ev.status("Thinking...")
	reply, err := l.agent.Reply(ctx, text)
	if err != nil {
		return fmt.Errorf("reply to %s: %w", p.ID, err)
	}
	l.ev.message("assistant", reply)

	if l.voice != nil {
		audio, err := l.voice.Synthesize(ctx, reply)
		if err != nil {
			return fmt.Errorf("voice reply to %s: %w", p.ID, err)
		}
		if len(audio) > 0 {
			l.ev.audio(audio)
		}
	}
	l.ev.status("Ready")
	return nil
}
