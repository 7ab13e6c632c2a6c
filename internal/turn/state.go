// Package turn decides who holds the conversational floor: when the user's speech
// starts and ends, when the agent is speaking, and when the user talks over it.
package turn

import "time"

type State int

const (
	Listening State = iota
	Recording
	Sending
	SpeakWait
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Recording:
		return "recording"
	case Sending:
		return "sending"
	case SpeakWait:
		return "speak_wait"
	default:
		return "unknown"
	}
}

// Floor is the agent side of the conversation as seen by the capture loop.
type Floor struct {
	Playing bool
	Pending bool
	// EndedAt is when agent playback last ended; zero if it never has or the
	// playback was interrupted.
	EndedAt time.Time
	// PendingExpired is set on the snapshot that dropped a stale pending flag.
	PendingExpired bool
}

// InCooldown reports whether now is still inside the post-playback hold-off.
func (f Floor) InCooldown(now time.Time, cooldown time.Duration) bool {
	return !f.Playing && !f.EndedAt.IsZero() && now.Sub(f.EndedAt) < cooldown
}

// Busy reports whether the user must not be recorded right now.
func (f Floor) Busy(now time.Time, cooldown time.Duration) bool {
	return f.Playing || f.Pending || f.InCooldown(now, cooldown)
}
