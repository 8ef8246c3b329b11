package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/sorolabs/soro/internal/audio"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
	"github.com/sorolabs/soro/internal/protocol"
	"github.com/sorolabs/soro/internal/recognizer"
	"github.com/sorolabs/soro/internal/store"
)

// Recorder is the persistence surface the registry needs: session metadata at
// creation time plus the per-window sink handed to each coordinator.
type Recorder interface {
	Sink
	AppendSession(ctx context.Context, id, lang string) error
}

// Registry tracks every live session and reclaims the ones clients abandon
// without a clean stop.
type Registry struct {
	cfg        config.SessionConfig
	audioCfg   config.AudioConfig
	dispatcher *recognizer.Dispatcher
	recorder   Recorder
	publisher  Publisher
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

func NewRegistry(parent context.Context, cfg config.SessionConfig, audioCfg config.AudioConfig,
	dispatcher *recognizer.Dispatcher, recorder Recorder, publisher Publisher, log *slog.Logger) (*Registry, error) {

	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		cfg:        cfg,
		audioCfg:   audioCfg,
		dispatcher: dispatcher,
		recorder:   recorder,
		publisher:  publisher,
		log:        log.With(slog.String("component", "session-registry")),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Coordinator),
	}

	meter := otel.GetMeterProvider().Meter("github.com/sorolabs/soro/session")
	_, err := meter.Int64ObservableGauge("soro.sessions.active",
		metric.WithDescription("Number of live transcription sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Count()))
			return nil
		}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("register session gauge: %w", err)
	}
	return r, nil
}

// Start launches the background sweeper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.sweepLoop()
}

// Close drains every remaining session, then stops the sweeper. Sessions are
// stopped before the shared context is cancelled so in-flight windows still
// resolve within the drain timeout.
func (r *Registry) Close() {
	r.mu.Lock()
	remaining := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		remaining = append(remaining, c)
	}
	r.sessions = make(map[string]*Coordinator)
	r.mu.Unlock()

	for _, c := range remaining {
		c.Stop()
	}

	r.cancel()
	r.wg.Wait()
}

// Create registers a new session with a fresh id. The requested language must
// be one of the configured set; an empty request falls back to the default.
func (r *Registry) Create(emitter Emitter, requested language.Tag) (*Coordinator, error) {
	lang := requested
	if lang == "" {
		parsed, err := language.Parse(r.cfg.DefaultLanguage)
		if err != nil {
			return nil, err
		}
		lang = parsed
	}
	if !slices.Contains(r.cfg.Languages, lang.String()) {
		return nil, fmt.Errorf("language %q is not enabled", lang)
	}

	id := uuid.NewString()
	buffer := audio.NewFrameBuffer(r.audioCfg, r.log)
	c := NewCoordinator(r.ctx, id, r.cfg, lang, buffer, r.dispatcher, emitter, r.recorder, r.publisher, r.log)

	r.mu.Lock()
	r.sessions[id] = c
	r.mu.Unlock()

	if r.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.recorder.AppendSession(ctx, id, lang.String()); err != nil {
			r.log.Warn("failed to record session", slogError(err))
		}
		cancel()
	}
	if r.publisher != nil {
		r.publisher.PublishSessionEvent(protocol.SubjectSessionOpened, id)
	}
	r.log.Info("session created", slog.String("session_id", id), slog.String("language", lang.String()))
	return c, nil
}

func (r *Registry) Get(id string) (*Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove drops a session from the registry. The session must be Closed first;
// removing a live session would orphan its in-flight dispatches.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status() != StatusClosed {
		return fmt.Errorf("session %s is %s, stop it before removal", id, c.Status())
	}
	delete(r.sessions, id)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep stops sessions idle beyond the configured timeout and evicts closed
// ones. Returns the number of sessions removed.
func (r *Registry) Sweep() int {
	idleAfter := time.Duration(r.cfg.IdleTimeoutMS) * time.Millisecond
	now := time.Now()

	r.mu.RLock()
	var stale []*Coordinator
	for _, c := range r.sessions {
		if c.Status() == StatusClosed || now.Sub(c.LastActivity()) > idleAfter {
			stale = append(stale, c)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, c := range stale {
		if c.Status() != StatusClosed {
			r.log.Info("stopping idle session", slog.String("session_id", c.ID()))
			c.Stop()
		}
		r.mu.Lock()
		if _, ok := r.sessions[c.ID()]; ok {
			delete(r.sessions, c.ID())
			removed++
		}
		r.mu.Unlock()
	}
	return removed
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.SweepIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("swept sessions", slog.Int("removed", n))
			}
		}
	}
}

var _ Recorder = (*store.Store)(nil)
