package audioconv

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizePCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{2.5, 32767},
		{-7, -32768},
		{0.5, 16383},
		{-0.5, -16384},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuantizePCM16(tt.in), "input %v", tt.in)
	}
}

func TestEncodeWAV16_HeaderRoundTrip(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(0.4 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	data, err := EncodeWAV16(samples, 16000)
	require.NoError(t, err)
	require.Len(t, data, WAVHeaderSize+2*len(samples))

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]), "PCM")
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(data[28:32]), "byte rate")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[32:34]), "block align")
	assert.Equal(t, uint32(2*len(samples)), binary.LittleEndian.Uint32(data[40:44]))

	info, err := ReadWAVInfo(data)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 16, info.BitDepth)
	assert.Equal(t, 1, info.Format)
	assert.Equal(t, 2*len(samples), info.DataBytes)
}

func TestEncodeWAV16_SampleLayout(t *testing.T) {
	data, err := EncodeWAV16([]float32{1, -1, 0, 0.25}, 8000)
	require.NoError(t, err)

	pcm := data[WAVHeaderSize:]
	require.Len(t, pcm, 8)
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(pcm[2:])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(pcm[4:])))
	assert.Equal(t, int16(8191), int16(binary.LittleEndian.Uint16(pcm[6:])))
}

func TestEncodeWAV16_Errors(t *testing.T) {
	_, err := EncodeWAV16([]float32{0}, 0)
	assert.Error(t, err)
}

func TestDecode_WAVToTargetRate(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = 0.25
	}
	data, err := EncodeWAV16(in, 48000)
	require.NoError(t, err)

	out, err := Decode(data, 16000)
	require.NoError(t, err)
	assert.Len(t, out, 1600)
	for _, v := range out {
		assert.InDelta(t, 0.25, v, 1e-3)
	}
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode([]byte("definitely not audio"), 16000)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSniff(t *testing.T) {
	wav, err := EncodeWAV16([]float32{0}, 16000)
	require.NoError(t, err)

	assert.Equal(t, KindWAV, Sniff(wav))
	assert.Equal(t, KindOgg, Sniff([]byte("OggS\x00\x02")))
	assert.Equal(t, KindMP3, Sniff([]byte("ID3\x04\x00")))
	assert.Equal(t, KindMP3, Sniff([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, KindUnknown, Sniff([]byte{0x00}))
}

func TestResampleLinear(t *testing.T) {
	t.Run("same rate is identity", func(t *testing.T) {
		in := []float32{1, 2, 3}
		assert.Equal(t, in, ResampleLinear(in, 16000, 16000))
	})

	t.Run("downsample by three", func(t *testing.T) {
		in := make([]float32, 48)
		for i := range in {
			in[i] = float32(i)
		}
		out := ResampleLinear(in, 48000, 16000)
		require.Len(t, out, 16)
		for i, v := range out {
			assert.InDelta(t, float64(3*i), float64(v), 1e-4)
		}
	})

	t.Run("upsample interpolates neighbours", func(t *testing.T) {
		out := ResampleLinear([]float32{0, 1}, 8000, 16000)
		assert.Equal(t, []float32{0, 0.5, 1, 1}, out)
	})

	t.Run("non integer ratio", func(t *testing.T) {
		in := make([]float32, 44100)
		out := ResampleLinear(in, 44100, 16000)
		assert.InDelta(t, 16000, len(out), 1)
	})
}

func TestDownmixInterleaved(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, DownmixInterleaved([]float32{1, 0, 0.5, -0.5}, 2))
	in := []float32{1, 2}
	assert.Equal(t, in, DownmixInterleaved(in, 1))
}
