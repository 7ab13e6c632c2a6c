package handsfree

import (
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindState   Kind = "state"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindMeter   Kind = "meter"
	// KindStatus and KindMessage relay what the reply side reports.
	KindStatus  Kind = "status"
	KindMessage Kind = "message"
)

// User-facing states.
const (
	StateListening   = "listening"
	StateRecording   = "recording"
	StateThinking    = "thinking"
	StateSpeaking    = "speaking"
	StateInterrupted = "interrupted"
	StateOff         = "off"
)

var AllStates = []string{StateListening, StateRecording, StateThinking, StateSpeaking, StateInterrupted, StateOff}

type Event struct {
	At      time.Time
	Kind    Kind
	State   string
	Message string
	Role    string
	// RMS and Threshold are set on meter events.
	RMS       float64
	Threshold float64
}

// bus fans events out on a buffered channel. Publishing never blocks the
// capture loop; when nobody drains the channel events are dropped.
type bus struct {
	ch      chan Event
	dropped atomic.Uint64
}

func newBus(size int) *bus {
	return &bus{ch: make(chan Event, size)}
}

func (b *bus) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}
