package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToneChime(t *testing.T) {
	c := ToneChime(beep.SampleRate(16000))
	assert.Equal(t, beep.SampleRate(16000), c.SampleRate())
	assert.InDelta(t, beep.SampleRate(16000).N(160*time.Millisecond), c.Len(), 2)

	// every call starts from the beginning
	buf := make([][2]float64, c.Len()+10)
	n, _ := c.Streamer().Stream(buf)
	assert.Equal(t, c.Len(), n)
	n, _ = c.Streamer().Stream(buf)
	assert.Equal(t, c.Len(), n)

	for _, s := range buf[:n] {
		assert.LessOrEqual(t, s[0], 0.3)
		assert.GreaterOrEqual(t, s[0], -0.3)
	}
}

func TestLoadChime_Errors(t *testing.T) {
	_, err := LoadChime(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.mp3")
	require.NoError(t, os.WriteFile(bogus, []byte("not an mp3"), 0o644))
	_, err = LoadChime(bogus)
	assert.Error(t, err)
}
