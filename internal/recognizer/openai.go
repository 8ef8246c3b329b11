package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
)

// openaiEngine sends windows to the hosted Whisper transcription API.
type openaiEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(cfg config.RecognizerConfig) Engine {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openaiEngine{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}
}

func (e *openaiEngine) Transcribe(ctx context.Context, pcm []byte, sampleRate int, lang language.Tag) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, fmt.Errorf("empty audio payload")
	}

	req := openai.AudioRequest{
		Model:    e.model,
		Reader:   bytes.NewReader(wavBytes(pcm, sampleRate)),
		FilePath: "window.wav",
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if !lang.IsAuto() {
		req.Language = lang.String()
	}

	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	detected := lang
	if resp.Language != "" {
		if tag, parseErr := language.Parse(resp.Language); parseErr == nil {
			detected = tag
		}
	}
	if detected.IsAuto() {
		detected = language.English
	}
	return Result{
		Text:             resp.Text,
		Confidence:       confidenceFromSegments(resp),
		DetectedLanguage: detected,
	}, nil
}

// confidenceFromSegments folds per-segment average log-probabilities into a
// single [0,1] score. Falls back to 1 when the API omits segments.
func confidenceFromSegments(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 1
	}
	var sum float64
	for _, seg := range resp.Segments {
		sum += math.Exp(seg.AvgLogprob)
	}
	conf := sum / float64(len(resp.Segments))
	if conf > 1 {
		conf = 1
	} else if conf < 0 {
		conf = 0
	}
	return conf
}

// wavBytes wraps raw mono PCM16 in a minimal WAV container for upload.
func wavBytes(pcm []byte, sampleRate int) []byte {
	const channels = 1
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
