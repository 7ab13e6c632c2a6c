package audio

import (
	"errors"
	"fmt"
	"time"

	"hark/pkg/audioconv"
)

// ErrUtteranceTooShort is returned when the encoded clip is too small to be worth
// sending. Callers drop it.
var ErrUtteranceTooShort = errors.New("utterance too short")

// Utterance is a half-open span [StartAbs, EndAbs) of the capture stream.
type Utterance struct {
	ID         string
	StartAbs   int64
	EndAbs     int64
	SampleRate int
	HandsFree  bool
}

func (u Utterance) Samples() int64 {
	if u.EndAbs <= u.StartAbs {
		return 0
	}
	return u.EndAbs - u.StartAbs
}

func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(u.Samples()) * time.Second / time.Duration(u.SampleRate)
}

// Encoder turns utterance spans into 16-bit mono WAV at TargetRate.
type Encoder struct {
	Ring       *RingBuffer
	TargetRate int
	MinBytes   int
}

func (e *Encoder) Encode(u Utterance) ([]byte, error) {
	samples := e.Ring.ReadRange(u.StartAbs, u.EndAbs)
	samples = audioconv.ResampleLinear(samples, u.SampleRate, e.TargetRate)

	data, err := audioconv.EncodeWAV16(samples, e.TargetRate)
	if err != nil {
		return nil, fmt.Errorf("encode utterance %s: %w", u.ID, err)
	}
	if len(data) < e.MinBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrUtteranceTooShort, len(data), e.MinBytes)
	}
	return data, nil
}
