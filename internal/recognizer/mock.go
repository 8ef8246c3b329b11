package recognizer

import (
	"context"
	"fmt"

	"github.com/sorolabs/soro/internal/language"
)

type mockEngine struct{}

// NewMockEngine returns an engine that echoes a synthetic transcript.
// Useful for local development when no recognition backend is configured.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(_ context.Context, pcm []byte, sampleRate int, lang language.Tag) (Result, error) {
	detected := lang
	if lang.IsAuto() {
		detected = language.English
	}
	return Result{
		Text:             fmt.Sprintf("[mock transcript samples=%d rate=%d]", len(pcm)/2, sampleRate),
		Confidence:       1,
		DetectedLanguage: detected,
	}, nil
}
