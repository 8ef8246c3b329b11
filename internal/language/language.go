package language

import (
	"fmt"
	"strings"
)

// Tag identifies a transcription language. The zero value is invalid;
// Auto delegates detection to the recognition engine.
type Tag string

const (
	Auto    Tag = "auto"
	English Tag = "en"
	Yoruba  Tag = "yo"
	Igbo    Tag = "ig"
	Hausa   Tag = "ha"
)

// Supported is the closed set of tags accepted from clients.
var Supported = []Tag{Auto, English, Yoruba, Igbo, Hausa}

// Parse validates a client-supplied language string against the supported set.
func Parse(s string) (Tag, error) {
	tag := Tag(strings.ToLower(strings.TrimSpace(s)))
	if tag == "" {
		return Auto, nil
	}
	for _, t := range Supported {
		if tag == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Strings returns the supported set as plain strings for wire messages.
func Strings() []string {
	out := make([]string, len(Supported))
	for i, t := range Supported {
		out[i] = string(t)
	}
	return out
}

func (t Tag) String() string { return string(t) }

// IsAuto reports whether the tag requests engine-side detection.
func (t Tag) IsAuto() bool { return t == Auto }
