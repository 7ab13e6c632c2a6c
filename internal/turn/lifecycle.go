package turn

import (
	"sync"
	"time"
)

// Playback is whatever is currently voicing the agent's reply.
type Playback interface {
	IsPlaying() bool
	Stop()
}

// Lifecycle tracks the agent's side of the turn: a response being awaited, a
// response being spoken, and when speaking last ended. Safe for concurrent use;
// the player reports from its own goroutine while the capture loop reads Floor.
type Lifecycle struct {
	mu sync.Mutex

	pendingFallback time.Duration
	playback        Playback

	pending   bool
	pendingAt time.Time
	playing   bool
	endedAt   time.Time
}

func NewLifecycle(pendingFallback time.Duration) *Lifecycle {
	return &Lifecycle{pendingFallback: pendingFallback}
}

func (l *Lifecycle) SetPlayback(p Playback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.playback = p
}

func (l *Lifecycle) SetPendingFallback(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingFallback = d
}

// ResponsePending marks an utterance as dispatched and a reply as expected.
func (l *Lifecycle) ResponsePending(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = true
	l.pendingAt = now
}

func (l *Lifecycle) SpeechStarted(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = false
	l.playing = true
}

func (l *Lifecycle) ResponseEnded(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = false
	l.playing = false
	l.endedAt = now
}

// Interrupt stops playback and clears the floor without a cooldown. It reports
// whether anything was actually playing.
func (l *Lifecycle) Interrupt(now time.Time) bool {
	l.mu.Lock()
	p := l.playback
	was := l.playing
	l.pending = false
	l.playing = false
	l.endedAt = time.Time{}
	l.mu.Unlock()

	if p != nil {
		if p.IsPlaying() {
			was = true
		}
		p.Stop()
	}
	return was
}

// Floor snapshots the agent side. A pending flag older than the fallback is
// dropped, so replies without audio cannot hold the floor.
func (l *Lifecycle) Floor(now time.Time) Floor {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired bool
	if l.pending && l.pendingFallback > 0 && now.Sub(l.pendingAt) >= l.pendingFallback {
		l.pending = false
		expired = true
	}
	return Floor{Playing: l.playing, Pending: l.pending, EndedAt: l.endedAt, PendingExpired: expired}
}
