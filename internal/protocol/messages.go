package protocol

import "time"

// Message types exchanged with clients over the transport.
const (
	TypeConnected       = "connected"
	TypeTranscription   = "transcription"
	TypeLanguageChanged = "language_changed"
	TypeError           = "error"
	TypePong            = "pong"

	TypeChangeLanguage = "change_language"
	TypeStop           = "stop"
	TypePing           = "ping"
)

// Connected confirms session establishment to the client.
type Connected struct {
	Type               string   `json:"type"`
	SessionID          string   `json:"session_id"`
	SupportedLanguages []string `json:"supported_languages"`
}

// Transcription carries one completed window's recognition result.
type Transcription struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	WindowSequence uint64    `json:"window_sequence"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	Language       string    `json:"language"`
	Timestamp      time.Time `json:"timestamp"`
}

// LanguageChanged acknowledges a preference change.
type LanguageChanged struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

// ErrorMessage reports a recoverable or session-fatal failure. For window-level
// failures WindowSequence identifies the slot the error occupies.
type ErrorMessage struct {
	Type           string `json:"type"`
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	WindowSequence uint64 `json:"window_sequence,omitempty"`
	Fatal          bool   `json:"fatal,omitempty"`
}

// Pong answers a client heartbeat.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Control is the envelope for inbound JSON control messages.
type Control struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// TranscriptEvent is broadcast on the bus for each finalized window.
type TranscriptEvent struct {
	SessionID      string    `json:"session_id"`
	WindowSequence uint64    `json:"window_sequence"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	Language       string    `json:"language"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectTranscript     = "soro.transcript.final"
	SubjectSessionOpened  = "soro.session.opened"
	SubjectSessionClosed  = "soro.session.closed"
)
