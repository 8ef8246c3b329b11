package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sorolabs/soro/internal/audio"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
	"github.com/sorolabs/soro/internal/protocol"
	"github.com/sorolabs/soro/internal/session"
	"github.com/sorolabs/soro/internal/store"
)

// History serves finished transcripts for the read-side endpoint.
type History interface {
	ListSession(ctx context.Context, sessionID string, limit int) ([]store.Record, error)
}

// Service terminates client websocket connections and the transcript history
// endpoint. Each connection maps to exactly one session in the registry.
type Service struct {
	cfg      config.Config
	registry *session.Registry
	history  History
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, history History, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		history:  history,
		log:      log.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the gateway routes on the runtime mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/history/{session_id}", s.handleHistory)
}

func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	requested, err := language.Parse(r.URL.Query().Get("language"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slogError(err))
		return
	}

	emitter := newWSEmitter(conn, s.log)
	coord, err := s.registry.Create(emitter, requested)
	if err != nil {
		emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: err.Error(), Fatal: true})
		emitter.close()
		_ = conn.Close()
		return
	}

	emitter.send(protocol.Connected{
		Type:               protocol.TypeConnected,
		SessionID:          coord.ID(),
		SupportedLanguages: s.cfg.Session.Languages,
	})

	s.readLoop(conn, coord, emitter)

	coord.Stop()
	if err := s.registry.Remove(coord.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.log.Warn("failed to remove session", slog.String("session_id", coord.ID()), slogError(err))
	}
	emitter.close()
	_ = conn.Close()
}

// readLoop pumps inbound frames until the client disconnects or stops the
// session. Binary frames are audio; text frames are JSON control messages.
func (s *Service) readLoop(conn *websocket.Conn, coord *session.Coordinator, emitter *wsEmitter) {
	log := s.log.With(slog.String("session_id", coord.ID()))
	var seq uint64

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", slogError(err))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			frag := audio.Fragment{Sequence: seq, ReceivedAt: time.Now(), Data: data}
			seq++
			if err := coord.Ingest(frag); err != nil {
				if errors.Is(err, session.ErrSessionClosed) {
					return
				}
				emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: err.Error()})
			}

		case websocket.TextMessage:
			var ctl protocol.Control
			if err := json.Unmarshal(data, &ctl); err != nil {
				emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: "malformed control message"})
				continue
			}
			if done := s.handleControl(ctl, coord, emitter); done {
				return
			}
		}

		if coord.Status() == session.StatusClosed {
			return
		}
	}
}

func (s *Service) handleControl(ctl protocol.Control, coord *session.Coordinator, emitter *wsEmitter) bool {
	switch ctl.Type {
	case protocol.TypeChangeLanguage:
		tag, err := language.Parse(ctl.Language)
		if err != nil {
			emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: err.Error()})
			return false
		}
		if err := coord.ChangeLanguage(tag); err != nil {
			emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: err.Error()})
		}
		return false

	case protocol.TypeStop:
		coord.Stop()
		return true

	case protocol.TypePing:
		emitter.send(protocol.Pong{Type: protocol.TypePong, Timestamp: time.Now().UTC()})
		return false

	default:
		emitter.send(protocol.ErrorMessage{Type: protocol.TypeError, Kind: "protocol", Message: "unknown control type"})
		return false
	}
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.history.ListSession(r.Context(), sessionID, limit)
	if err != nil {
		s.log.Error("history lookup failed", slog.String("session_id", sessionID), slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		SessionID   string         `json:"session_id"`
		Transcripts []store.Record `json:"transcripts"`
	}{SessionID: sessionID, Transcripts: records}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to encode history response", slogError(err))
	}
}

// wsEmitter serializes outbound messages through a single writer goroutine,
// as the websocket connection permits only one concurrent writer. Sends never
// block the session; a saturated client loses messages with a warning.
type wsEmitter struct {
	out  chan []byte
	log  *slog.Logger
	once sync.Once
	done chan struct{}
}

func newWSEmitter(conn *websocket.Conn, log *slog.Logger) *wsEmitter {
	e := &wsEmitter{
		out:  make(chan []byte, 64),
		log:  log,
		done: make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		for msg := range e.out {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()
	return e
}

func (e *wsEmitter) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.log.Warn("failed to marshal outbound message", slogError(err))
		return
	}
	select {
	case e.out <- data:
	case <-e.done:
	default:
		e.log.Warn("outbound buffer full, dropping message")
	}
}

func (e *wsEmitter) close() {
	e.once.Do(func() { close(e.out) })
	<-e.done
}

func (e *wsEmitter) EmitTranscription(m protocol.Transcription) { e.send(m) }

func (e *wsEmitter) EmitError(m protocol.ErrorMessage) { e.send(m) }

func (e *wsEmitter) EmitLanguageChanged(m protocol.LanguageChanged) { e.send(m) }

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
