// Package tts voices text replies on this machine.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"hark/pkg/audioconv"
)

var ErrNoSpeech = errors.New("synthesizer produced no audio")

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Espeak synthesizes speech with espeak-ng, which writes a WAV stream to stdout.
type Espeak struct {
	Binary string
	Voice  string // espeak voice name, e.g. "en" or "ru"
	Speed  int    // words per minute; 0 keeps the voice default

	run runFunc
}

func NewEspeak(voice string, speed int) *Espeak {
	return &Espeak{Binary: "espeak-ng", Voice: voice, Speed: speed, run: execRun}
}

func (e *Espeak) args(text string) []string {
	args := []string{"--stdout"}
	if e.Voice != "" {
		args = append(args, "-v", e.Voice)
	}
	if e.Speed > 0 {
		args = append(args, "-s", strconv.Itoa(e.Speed))
	}
	// "--" keeps text starting with a dash from being read as a flag
	return append(args, "--", text)
}

// Synthesize returns text spoken as a WAV file. Empty text yields no audio and
// no error.
func (e *Espeak) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	out, err := e.run(ctx, e.Binary, e.args(text)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Binary, err)
	}
	info, err := audioconv.ReadWAVInfo(out)
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", e.Binary, err)
	}
	if info.DataBytes == 0 {
		return nil, ErrNoSpeech
	}
	return out, nil
}
