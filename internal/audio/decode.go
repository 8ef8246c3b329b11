package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// ErrDecode marks fragment payloads that could not be converted to canonical
// samples. Callers drop the fragment and keep the session alive.
var ErrDecode = errors.New("audio decode failed")

// decodeFragment converts a fragment payload into mono PCM16 at rate.
// WAV containers are decoded and normalized; anything without a RIFF header is
// treated as raw little-endian PCM16 already at the canonical format.
func decodeFragment(data []byte, rate int) ([]int16, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if isWAV(data) {
		return decodeWAV(data, rate)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: raw pcm payload not 16-bit aligned", ErrDecode)
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return samples, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func decodeWAV(data []byte, rate int) ([]int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav container", ErrDecode)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: empty wav payload", ErrDecode)
	}

	shift := 0
	if depth := int(dec.BitDepth); depth > 16 {
		shift = depth - 16
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	mono := downmix(buf.Data, channels, shift)
	if buf.Format.SampleRate != rate && buf.Format.SampleRate > 0 {
		mono = resample(mono, buf.Format.SampleRate, rate)
	}
	return mono, nil
}

// downmix averages interleaved channels into mono, rescaling to 16-bit.
func downmix(data []int, channels, shift int) []int16 {
	frames := len(data) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c] >> shift
		}
		v := sum / channels
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// resample performs linear interpolation between sample rates. Adequate for
// speech input; recognition engines are tolerant of interpolation artifacts.
func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(to) / int64(from))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * float64(from) / float64(to)
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}
