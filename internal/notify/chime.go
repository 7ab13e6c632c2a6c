// Package notify holds the short audio cues played around push-to-talk.
package notify

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
)

// Chime is a decoded cue kept in memory so it can be replayed without touching
// the disk.
type Chime struct {
	buf *beep.Buffer
}

// LoadChime decodes an mp3 cue.
func LoadChime(path string) (*Chime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chime: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode chime %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode chime %s: %w", path, err)
	}
	return &Chime{buf: buf}, nil
}

// ToneChime synthesizes a short two-note cue, used when no chime file is
// configured.
func ToneChime(rate beep.SampleRate) *Chime {
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(tone(rate, 660, 70*time.Millisecond))
	buf.Append(tone(rate, 880, 90*time.Millisecond))
	return &Chime{buf: buf}
}

func (c *Chime) Streamer() beep.Streamer { return c.buf.Streamer(0, c.buf.Len()) }

func (c *Chime) SampleRate() beep.SampleRate { return c.buf.Format().SampleRate }

func (c *Chime) Len() int { return c.buf.Len() }

// tone is a sine at freq with a linear fade out so it does not click.
func tone(rate beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	total := rate.N(d)
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < total {
			env := 1 - float64(pos)/float64(total)
			v := 0.3 * env * math.Sin(2*math.Pi*freq*float64(pos)/float64(rate))
			out[n][0], out[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})
}
