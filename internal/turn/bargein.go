package turn

import "time"

// BargeIn detects the user talking over agent playback.
type BargeIn struct {
	Threshold float64
	// Delay is how long loudness must be sustained; zero fires on the first
	// loud frame.
	Delay time.Duration

	since time.Time
}

// Step reports whether playback should be interrupted on this poll. It only arms
// while playing, and re-arms after firing.
func (b *BargeIn) Step(now time.Time, rms float64, playing bool) bool {
	if !playing || rms < b.Threshold {
		b.since = time.Time{}
		return false
	}
	if b.since.IsZero() {
		b.since = now
	}
	if now.Sub(b.since) < b.Delay {
		return false
	}
	b.since = time.Time{}
	return true
}

func (b *BargeIn) Reset() { b.since = time.Time{} }
