package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

var ErrUnsupported = errors.New("unsupported audio container")

type Kind string

const (
	KindWAV     Kind = "wav"
	KindMP3     Kind = "mp3"
	KindOgg     Kind = "ogg"
	KindUnknown Kind = ""
)

// Sniff guesses the container from its magic bytes.
func Sniff(data []byte) Kind {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return KindWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return KindOgg
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return KindMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return KindMP3
	}
	return KindUnknown
}

// Decode turns an encoded clip into mono float32 samples at targetRate.
// Ogg is tried as Vorbis first, then Opus.
func Decode(data []byte, targetRate int) ([]float32, error) {
	switch Sniff(data) {
	case KindWAV:
		return decodeWAV(bytes.NewReader(data), targetRate)
	case KindMP3:
		return decodeMP3(bytes.NewReader(data), targetRate)
	case KindOgg:
		if x, err := decodeOggVorbis(bytes.NewReader(data), targetRate); err == nil {
			return x, nil
		}
		x, err := decodeOggOpus(bytes.NewReader(data), targetRate)
		if err != nil {
			return nil, fmt.Errorf("cannot decode ogg as vorbis or opus: %w", err)
		}
		return x, nil
	default:
		return nil, ErrUnsupported
	}
}

func decodeWAV(r io.ReadSeeker, targetRate int) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	x = DownmixInterleaved(x, ch)
	return ResampleLinear(x, sr, targetRate), nil
}

func decodeMP3(r io.Reader, targetRate int) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	// go-mp3 always yields interleaved stereo
	x := DownmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return ResampleLinear(x, sr, targetRate), nil
}

func decodeOggVorbis(r io.Reader, targetRate int) ([]float32, error) {
	pcm, f, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f == nil || f.Channels <= 0 || f.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	x := DownmixInterleaved(pcm, f.Channels)
	return ResampleLinear(x, f.SampleRate, targetRate), nil
}

func decodeOggOpus(r io.ReadSeeker, targetRate int) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// libopusfile always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, nil
	}

	return ResampleLinear(DownmixInterleaved(pcm48, ch), 48000, targetRate), nil
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(Clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func DownmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// ResampleLinear converts between rates by interpolating between the two
// neighbouring input samples. The last input sample is held at the tail.
func ResampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
