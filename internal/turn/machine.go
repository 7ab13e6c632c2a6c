package turn

import "time"

type Config struct {
	MinSpeech    time.Duration
	EndSilence   time.Duration
	MaxUtterance time.Duration
	Cooldown     time.Duration
	// PrerollSamples are kept in front of the first loud frame so word onsets
	// are not clipped.
	PrerollSamples int64
}

// Input is one poll of the capture loop.
type Input struct {
	Now      time.Time
	Loud     bool
	WriteAbs int64
	Floor    Floor
}

// Span is a finalized utterance range in absolute sample indices, [StartAbs, EndAbs).
type Span struct {
	StartAbs    int64
	EndAbs      int64
	SpeechStart time.Time
	SpeechDur   time.Duration
}

type Decision struct {
	Prev  State
	State State
	// Started is set on the poll that opened a recording.
	Started bool
	// Span is set on the poll that closed a recording.
	Span *Span
	// Abandoned is set when an open recording was dropped without an utterance.
	Abandoned bool
}

func (d Decision) Changed() bool { return d.Prev != d.State }

// Machine is the turn-taking state machine. It holds no clock or audio of its own;
// the caller feeds it one Input per poll. Not safe for concurrent use.
type Machine struct {
	cfg Config

	state       State
	speechStart time.Time
	lastLoud    time.Time
	startAbs    int64
}

func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

func (m *Machine) State() State { return m.state }

// Reset returns to Listening and forgets any open recording.
func (m *Machine) Reset() {
	m.state = Listening
	m.speechStart = time.Time{}
	m.lastLoud = time.Time{}
	m.startAbs = 0
}

func (m *Machine) Step(in Input) Decision {
	d := Decision{Prev: m.state}

	if in.Floor.Busy(in.Now, m.cfg.Cooldown) {
		if m.state == Recording {
			d.Abandoned = true
		}
		m.state = SpeakWait
		d.State = m.state
		return d
	}

	// floor is clear; a finished send or an expired wait resolves to Listening and
	// this same frame is evaluated from there
	if m.state == SpeakWait || m.state == Sending {
		m.state = Listening
	}

	switch m.state {
	case Listening:
		if in.Loud {
			m.state = Recording
			m.speechStart = in.Now
			m.lastLoud = in.Now
			m.startAbs = max(0, in.WriteAbs-m.cfg.PrerollSamples)
			d.Started = true
		}

	case Recording:
		if in.Loud {
			m.lastLoud = in.Now
		}
		speechDur := in.Now.Sub(m.speechStart)
		silenceDur := in.Now.Sub(m.lastLoud)
		enough := speechDur >= m.cfg.MinSpeech

		switch {
		case enough && silenceDur >= m.cfg.EndSilence && m.lastLoud.Sub(m.speechStart) < m.cfg.MinSpeech:
			// the voiced part never reached the minimum
			d.Abandoned = true
			m.state = Listening

		case speechDur >= m.cfg.MaxUtterance, enough && silenceDur >= m.cfg.EndSilence:
			d.Span = &Span{
				StartAbs:    m.startAbs,
				EndAbs:      max(in.WriteAbs, m.startAbs),
				SpeechStart: m.speechStart,
				SpeechDur:   speechDur,
			}
			m.state = Sending
		}
	}

	d.State = m.state
	return d
}
