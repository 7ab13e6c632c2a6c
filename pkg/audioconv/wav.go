package audioconv

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// WAVHeaderSize is the size of a canonical RIFF/WAVE PCM header.
	WAVHeaderSize = 44

	wavFormatPCM = 1
	bitDepth16   = 16
)

// QuantizePCM16 clamps to [-1,1] and maps the negative side onto -32768 and the
// positive side onto 32767.
func QuantizePCM16(x float32) int16 {
	v := Clamp(float64(x), -1, 1)
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}

// EncodeWAV16 serializes mono samples as a 16-bit little-endian PCM WAV.
func EncodeWAV16(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(QuantizePCM16(s))
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, bitDepth16, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth16,
	}
	// Write emits the header even for an empty buffer.
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf.Bytes(), nil
}

// WAVInfo is the subset of the fmt chunk callers care about.
type WAVInfo struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Format     int
	DataBytes  int
}

// ReadWAVInfo parses a WAV header.
func ReadWAVInfo(data []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return WAVInfo{}, err
	}
	if !dec.IsValidFile() {
		return WAVInfo{}, errors.New("invalid wav")
	}
	if err := dec.FwdToPCM(); err != nil {
		return WAVInfo{}, err
	}
	return WAVInfo{
		Channels:   int(dec.NumChans),
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Format:     int(dec.WavAudioFormat),
		DataBytes:  int(dec.PCMLen()),
	}, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch the chunk sizes on Close.
type writeSeeker struct {
	buf bytes.Buffer
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if grow := end - w.buf.Len(); grow > 0 {
		w.buf.Write(make([]byte, grow))
	}
	copy(w.buf.Bytes()[w.pos:end], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(w.buf.Len()) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
