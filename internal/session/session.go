package session

import (
	"context"
	"errors"

	"github.com/sorolabs/soro/internal/protocol"
	"github.com/sorolabs/soro/internal/store"
)

// Status is the lifecycle state of one session.
type Status string

const (
	// StatusActive accepts fragments and dispatches windows.
	StatusActive Status = "active"
	// StatusDraining accepts no new audio while outstanding work completes.
	StatusDraining Status = "draining"
	// StatusClosed is terminal; all resources are released.
	StatusClosed Status = "closed"
)

var (
	// ErrSessionClosed is returned for any operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrDraining is returned for audio arriving after a stop signal.
	ErrDraining = errors.New("session draining")
	// ErrNotFound is returned for lookups of unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
)

// Emitter delivers outbound messages to the transport. Implementations must
// not block: result ordering is flushed while coordinator state is locked.
type Emitter interface {
	EmitTranscription(protocol.Transcription)
	EmitError(protocol.ErrorMessage)
	EmitLanguageChanged(protocol.LanguageChanged)
}

// Sink receives finalized transcripts. Appends are fire-and-forget; failures
// are logged and never affect live delivery.
type Sink interface {
	AppendRecord(ctx context.Context, rec store.Record) error
}

// Publisher broadcasts pipeline events on the bus, when one is configured.
type Publisher interface {
	PublishTranscript(evt protocol.TranscriptEvent)
	PublishSessionEvent(subject, sessionID string)
}
