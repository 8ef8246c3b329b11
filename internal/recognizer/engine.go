package recognizer

import (
	"context"

	"github.com/sorolabs/soro/internal/language"
)

// Result captures engine output for one window. Immutable once constructed.
type Result struct {
	Text             string
	Confidence       float64
	DetectedLanguage language.Tag
}

// Engine abstracts speech-to-text backends. Input is mono little-endian PCM16
// at the given sample rate. An auto language tag delegates detection to the
// engine; the returned DetectedLanguage is trusted verbatim.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, lang language.Tag) (Result, error)
}
