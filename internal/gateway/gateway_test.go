package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
	"github.com/sorolabs/soro/internal/protocol"
	"github.com/sorolabs/soro/internal/recognizer"
	"github.com/sorolabs/soro/internal/session"
	"github.com/sorolabs/soro/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = 1000
	cfg.Audio.WindowTargetMS = 200
	cfg.Audio.WindowMinMS = 100
	cfg.Audio.NoiseFloorMS = 20
	cfg.Audio.MaxBufferMS = 2000
	cfg.Session.DrainTimeoutMS = 2000
	return cfg
}

type echoEngine struct{}

func (echoEngine) Transcribe(ctx context.Context, pcm []byte, rate int, lang language.Tag) (recognizer.Result, error) {
	detected := lang
	if detected.IsAuto() {
		detected = language.English
	}
	return recognizer.Result{Text: "hello", Confidence: 0.95, DetectedLanguage: detected}, nil
}

type stubHistory struct {
	records []store.Record
	err     error
}

func (h *stubHistory) ListSession(ctx context.Context, sessionID string, limit int) ([]store.Record, error) {
	return h.records, h.err
}

func newTestServer(t *testing.T, history History) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	d := recognizer.NewDispatcher(context.Background(),
		config.RecognizerConfig{TimeoutMS: 2000, Workers: 2, QueueDepth: 8}, echoEngine{}, log)
	d.Start()
	t.Cleanup(d.Close)

	reg, err := session.NewRegistry(context.Background(), cfg.Session, cfg.Audio, d, nil, nil, log)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	if history == nil {
		history = &stubHistory{}
	}
	svc := New(cfg, reg, history, log)
	mux := http.NewServeMux()
	svc.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
}

func TestConnectAnnouncesSession(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dial(t, srv, "")

	var connected protocol.Connected
	readJSON(t, conn, &connected)
	if connected.Type != protocol.TypeConnected {
		t.Fatalf("expected connected message, got %q", connected.Type)
	}
	if connected.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if len(connected.SupportedLanguages) == 0 {
		t.Fatal("expected supported languages in the handshake")
	}
}

func TestBinaryAudioYieldsTranscription(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dial(t, srv, "?language=en")

	var connected protocol.Connected
	readJSON(t, conn, &connected)

	// One full 200ms window at 1 kHz mono PCM16.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 400)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	var tr protocol.Transcription
	readJSON(t, conn, &tr)
	if tr.Type != protocol.TypeTranscription {
		t.Fatalf("expected transcription, got %q", tr.Type)
	}
	if tr.Text != "hello" || tr.WindowSequence != 0 {
		t.Fatalf("unexpected transcription: %+v", tr)
	}
	if tr.Language != "en" {
		t.Fatalf("expected detected language en, got %q", tr.Language)
	}
}

func TestChangeLanguageAcknowledged(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dial(t, srv, "")

	var connected protocol.Connected
	readJSON(t, conn, &connected)

	ctl, _ := json.Marshal(protocol.Control{Type: protocol.TypeChangeLanguage, Language: "yo"})
	if err := conn.WriteMessage(websocket.TextMessage, ctl); err != nil {
		t.Fatalf("write control: %v", err)
	}

	var changed protocol.LanguageChanged
	readJSON(t, conn, &changed)
	if changed.Type != protocol.TypeLanguageChanged || changed.Language != "yo" {
		t.Fatalf("unexpected ack: %+v", changed)
	}
}

func TestUnsupportedLanguageRejected(t *testing.T) {
	srv := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe?language=xx"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection for unsupported language")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestStopDrainsRemainder(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dial(t, srv, "?language=en")

	var connected protocol.Connected
	readJSON(t, conn, &connected)

	// 50ms remainder, below the window minimum but above the noise floor.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 100)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	ctl, _ := json.Marshal(protocol.Control{Type: protocol.TypeStop})
	if err := conn.WriteMessage(websocket.TextMessage, ctl); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	var tr protocol.Transcription
	readJSON(t, conn, &tr)
	if tr.Type != protocol.TypeTranscription || tr.WindowSequence != 0 {
		t.Fatalf("expected flushed remainder, got %+v", tr)
	}
}

func TestPingPong(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dial(t, srv, "")

	var connected protocol.Connected
	readJSON(t, conn, &connected)

	ctl, _ := json.Marshal(protocol.Control{Type: protocol.TypePing})
	if err := conn.WriteMessage(websocket.TextMessage, ctl); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong protocol.Pong
	readJSON(t, conn, &pong)
	if pong.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %q", pong.Type)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := &stubHistory{records: []store.Record{
		{SessionID: "abc", WindowSequence: 0, Text: "first", Language: "en"},
		{SessionID: "abc", WindowSequence: 1, Text: "second", Language: "en"},
	}}
	srv := newTestServer(t, history)

	resp, err := http.Get(srv.URL + "/api/history/abc")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID   string         `json:"session_id"`
		Transcripts []store.Record `json:"transcripts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID != "abc" || len(body.Transcripts) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Transcripts[1].Text != "second" {
		t.Fatalf("unexpected transcript ordering: %+v", body.Transcripts)
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/history/abc?limit=zero")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
