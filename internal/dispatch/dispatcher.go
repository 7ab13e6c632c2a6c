// Package dispatch hands finished utterances to whatever produces the agent's
// reply: a remote backend over WebSocket or a local whisper + chat pipeline.
package dispatch

import (
	"context"
	"time"
)

// Payload is one encoded utterance.
type Payload struct {
	ID        string
	Audio     []byte // 16-bit mono WAV
	HandsFree bool
	Duration  time.Duration
}

type Dispatcher interface {
	Dispatch(ctx context.Context, p Payload) error
}

// Events receives what the reply side reports back. Nil fields are skipped.
type Events struct {
	OnStatus  func(msg string)
	OnMessage func(role, text string)
	OnError   func(err error)
	// OnAudio receives encoded reply audio to voice.
	OnAudio func(data []byte)
}

func (e Events) status(msg string) {
	if e.OnStatus != nil {
		e.OnStatus(msg)
	}
}

func (e Events) message(role, text string) {
	if e.OnMessage != nil {
		e.OnMessage(role, text)
	}
}

func (e Events) fail(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e Events) audio(data []byte) {
	if e.OnAudio != nil {
		e.OnAudio(data)
	}
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, p Payload) error

func (f Func) Dispatch(ctx context.Context, p Payload) error { return f(ctx, p) }
