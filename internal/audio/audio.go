package audio

import "time"

// Fragment is one raw piece of incoming audio as received from the transport.
// The payload may be a WAV container or raw little-endian PCM16.
type Fragment struct {
	Sequence   uint64
	ReceivedAt time.Time
	Data       []byte
}

// Window is a canonical-format slice of audio assembled for one recognition
// call: mono PCM16 at the configured sample rate. A window is never dispatched
// twice; its sequence is monotonic per session.
type Window struct {
	Sequence   uint64
	Start      time.Time
	SampleRate int
	Samples    []int16
}

// Duration reports the window length at its sample rate.
func (w Window) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// PCMBytes returns the samples as little-endian PCM16 bytes.
func (w Window) PCMBytes() []byte {
	out := make([]byte, len(w.Samples)*2)
	for i, s := range w.Samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
