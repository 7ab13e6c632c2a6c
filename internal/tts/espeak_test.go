package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hark/pkg/audioconv"
)

func fakeSynth(t *testing.T, samples int, calls *[][]string) runFunc {
	t.Helper()
	wav, err := audioconv.EncodeWAV16(make([]float32, samples), 22050)
	require.NoError(t, err)
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, append([]string{name}, args...))
		return wav, nil
	}
}

func TestEspeak_Synthesize(t *testing.T) {
	var calls [][]string
	e := NewEspeak("ru", 160)
	e.run = fakeSynth(t, 2205, &calls)

	out, err := e.Synthesize(context.Background(), "  -привет  ")
	require.NoError(t, err)

	info, err := audioconv.ReadWAVInfo(out)
	require.NoError(t, err)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, [][]string{{"espeak-ng", "--stdout", "-v", "ru", "-s", "160", "--", "-привет"}}, calls)
}

func TestEspeak_EmptyText(t *testing.T) {
	var calls [][]string
	e := NewEspeak("", 0)
	e.run = fakeSynth(t, 10, &calls)

	out, err := e.Synthesize(context.Background(), " \n")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, calls)
}

func TestEspeak_Failures(t *testing.T) {
	var calls [][]string
	e := NewEspeak("", 0)
	e.run = fakeSynth(t, 0, &calls)
	_, err := e.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Equal(t, []string{"espeak-ng", "--stdout", "--", "hello"}, calls[0])

	e.run = func(context.Context, string, ...string) ([]byte, error) { return []byte("oops"), nil }
	_, err = e.Synthesize(context.Background(), "hello")
	assert.Error(t, err)

	boom := errors.New("exit status 1")
	e.run = func(context.Context, string, ...string) ([]byte, error) { return nil, boom }
	_, err = e.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
}
