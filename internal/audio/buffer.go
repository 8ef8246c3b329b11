package audio

import (
	"log/slog"
	"time"

	"github.com/sorolabs/soro/internal/config"
)

// FrameBuffer assembles arbitrarily-sized fragments into fixed-duration
// windows of canonical samples. It is owned by exactly one session coordinator
// and is not safe for concurrent use.
type FrameBuffer struct {
	rate          int
	targetSamples int
	minSamples    int
	noiseSamples  int
	maxSamples    int
	retainedTail  int
	pending       []int16
	nextWindow    uint64
	startAt       time.Time
	lastFragment  uint64
	sawFragment   bool
	log           *slog.Logger
}

func NewFrameBuffer(cfg config.AudioConfig, log *slog.Logger) *FrameBuffer {
	ms := func(d int) int { return cfg.SampleRate * d / 1000 }
	return &FrameBuffer{
		rate:          cfg.SampleRate,
		targetSamples: ms(cfg.WindowTargetMS),
		minSamples:    ms(cfg.WindowMinMS),
		noiseSamples:  ms(cfg.NoiseFloorMS),
		maxSamples:    ms(cfg.MaxBufferMS),
		retainedTail:  ms(cfg.WindowOverlapMS),
		log:           log.With(slog.String("component", "frame-buffer")),
	}
}

// Append decodes one fragment into the rolling store. Zero-duration fragments
// are ignored. A fragment that fails to decode is dropped and ErrDecode
// returned; the session decides whether repeated failures are fatal.
func (b *FrameBuffer) Append(frag Fragment) error {
	if b.sawFragment && frag.Sequence <= b.lastFragment {
		// Transport guarantees order; a regression is a protocol violation we
		// log but do not attempt to correct.
		b.log.Warn("out-of-order fragment sequence",
			slog.Uint64("got", frag.Sequence),
			slog.Uint64("last", b.lastFragment))
	}
	b.lastFragment = frag.Sequence
	b.sawFragment = true

	samples, err := decodeFragment(frag.Data, b.rate)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	if len(b.pending) == 0 {
		b.startAt = frag.ReceivedAt
	}
	b.pending = append(b.pending, samples...)

	if len(b.pending) > b.maxSamples {
		drop := len(b.pending) - b.maxSamples
		b.pending = b.pending[drop:]
		b.startAt = b.startAt.Add(time.Duration(drop) * time.Second / time.Duration(b.rate))
		b.log.Warn("frame buffer overflow, dropping oldest audio",
			slog.Int("dropped_samples", drop))
	}
	return nil
}

// TryTakeWindow consumes one full target-duration window once enough audio has
// accumulated. The configured retained tail stays in the buffer so consecutive
// windows can overlap; with a zero tail they are exactly contiguous. Returns
// false while the buffer is not ready.
func (b *FrameBuffer) TryTakeWindow() (Window, bool) {
	if len(b.pending) < b.targetSamples {
		return Window{}, false
	}
	return b.take(b.targetSamples), true
}

// Flush force-emits all remaining audio as one final window. Remainders below
// the noise floor yield nothing; an empty window is never produced.
func (b *FrameBuffer) Flush() (Window, bool) {
	n := len(b.pending)
	if n == 0 || n < b.noiseSamples {
		b.pending = nil
		return Window{}, false
	}
	w := b.take(n)
	// Flush consumes everything; no tail survives into a closed session.
	b.pending = nil
	return w, true
}

// BufferedDuration reports the audio currently held and not yet windowed.
func (b *FrameBuffer) BufferedDuration() time.Duration {
	return time.Duration(len(b.pending)) * time.Second / time.Duration(b.rate)
}

func (b *FrameBuffer) take(n int) Window {
	w := Window{
		Sequence:   b.nextWindow,
		Start:      b.startAt,
		SampleRate: b.rate,
		Samples:    append([]int16(nil), b.pending[:n]...),
	}
	b.nextWindow++

	keepFrom := n - b.retainedTail
	if keepFrom < 0 {
		keepFrom = 0
	}
	consumed := keepFrom
	b.pending = append([]int16(nil), b.pending[keepFrom:]...)
	b.startAt = b.startAt.Add(time.Duration(consumed) * time.Second / time.Duration(b.rate))
	return w
}
