package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sorolabs/soro/internal/audio"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
	"github.com/sorolabs/soro/internal/protocol"
	"github.com/sorolabs/soro/internal/recognizer"
	"github.com/sorolabs/soro/internal/store"
)

type emission struct {
	res  recognizer.Result
	err  error
	when time.Time
}

// Coordinator owns the full lifecycle of one live transcription session. It
// sequences ingestion, buffering, dispatch and result emission, and releases
// completed results in strictly non-decreasing window-sequence order even
// though dispatches complete concurrently.
type Coordinator struct {
	id         string
	cfg        config.SessionConfig
	log        *slog.Logger
	dispatcher *recognizer.Dispatcher
	emitter    Emitter
	sink       Sink
	publisher  Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed chan struct{}

	mu           sync.Mutex
	status       Status
	lang         language.Tag
	buffer       *audio.FrameBuffer
	pending      map[uint64]emission
	nextEmit     uint64
	failures     int
	fragments    uint64
	windows      uint64
	lastActivity time.Time
}

func NewCoordinator(parent context.Context, id string, cfg config.SessionConfig, lang language.Tag,
	buffer *audio.FrameBuffer, dispatcher *recognizer.Dispatcher, emitter Emitter, sink Sink,
	publisher Publisher, log *slog.Logger) *Coordinator {

	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		id:           id,
		cfg:          cfg,
		log:          log.With(slog.String("component", "session"), slog.String("session_id", id)),
		dispatcher:   dispatcher,
		emitter:      emitter,
		sink:         sink,
		publisher:    publisher,
		ctx:          ctx,
		cancel:       cancel,
		closed:       make(chan struct{}),
		status:       StatusActive,
		lang:         lang,
		buffer:       buffer,
		pending:      make(map[uint64]emission),
		lastActivity: time.Now(),
	}
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Language() language.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Counters reports fragments received and windows dispatched.
func (c *Coordinator) Counters() (fragments, windows uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments, c.windows
}

// Ingest accepts one audio fragment. Valid only while Active. A window that
// becomes ready is dispatched asynchronously: ingestion never blocks on
// recognition, so a slow model call cannot stall audio intake. Decode
// failures drop the fragment, inform the client and count toward the
// session-fatal threshold; they are not returned as errors.
func (c *Coordinator) Ingest(frag audio.Fragment) error {
	c.mu.Lock()
	switch c.status {
	case StatusClosed:
		c.mu.Unlock()
		return ErrSessionClosed
	case StatusDraining:
		c.mu.Unlock()
		return ErrDraining
	}
	c.lastActivity = time.Now()
	c.fragments++

	if err := c.buffer.Append(frag); err != nil {
		c.failures++
		fatal := c.failures >= c.cfg.MaxFailures
		c.emitter.EmitError(protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Kind:    "decode",
			Message: err.Error(),
		})
		c.mu.Unlock()
		if fatal {
			go c.fail("sustained decode failures")
		}
		return nil
	}

	for {
		w, ok := c.buffer.TryTakeWindow()
		if !ok {
			break
		}
		c.launchLocked(w)
	}
	c.mu.Unlock()
	return nil
}

// ChangeLanguage updates the preference for windows not yet dispatched.
// In-flight dispatches keep the preference they were submitted with.
func (c *Coordinator) ChangeLanguage(tag language.Tag) error {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.lang = tag
	c.lastActivity = time.Now()
	c.emitter.EmitLanguageChanged(protocol.LanguageChanged{
		Type:     protocol.TypeLanguageChanged,
		Language: tag.String(),
	})
	c.mu.Unlock()
	return nil
}

// Stop drains the session: remaining buffered audio is flushed as one final
// window, outstanding dispatches resolve or hit the drain timeout, and the
// session transitions to Closed. Safe to call more than once; later calls
// wait for the first to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	switch c.status {
	case StatusClosed:
		c.mu.Unlock()
		return
	case StatusDraining:
		c.mu.Unlock()
		<-c.closed
		return
	}
	c.status = StatusDraining
	c.lastActivity = time.Now()

	for {
		w, ok := c.buffer.TryTakeWindow()
		if !ok {
			break
		}
		c.launchLocked(w)
	}
	if w, ok := c.buffer.Flush(); ok {
		c.launchLocked(w)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(c.cfg.DrainTimeoutMS) * time.Millisecond):
		c.log.Warn("drain timeout elapsed, cancelling outstanding dispatches")
		c.cancel()
		<-done
		c.emitter.EmitError(protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Kind:    "session_fatal",
			Message: "drain timeout exceeded",
			Fatal:   true,
		})
	}

	c.mu.Lock()
	c.flushReadyLocked()
	c.status = StatusClosed
	c.mu.Unlock()
	c.cancel()

	if c.publisher != nil {
		c.publisher.PublishSessionEvent(protocol.SubjectSessionClosed, c.id)
	}
	c.log.Info("session closed")
	close(c.closed)
}

// launchLocked dispatches one window on its own task. Caller holds c.mu.
func (c *Coordinator) launchLocked(w audio.Window) {
	c.windows++
	lang := c.lang
	c.wg.Add(1)
	go c.dispatch(w, lang)
}

func (c *Coordinator) dispatch(w audio.Window, lang language.Tag) {
	defer c.wg.Done()

	res, err := c.dispatcher.Submit(c.ctx, w, lang)
	if err != nil {
		var re *recognizer.Error
		if errors.As(err, &re) && re.Transient() {
			// One retry with the same samples for transient failures.
			res, err = c.dispatcher.Submit(c.ctx, w, lang)
		}
	}
	c.resolve(w, res, err)
}

func (c *Coordinator) resolve(w audio.Window, res recognizer.Result, err error) {
	c.mu.Lock()
	if err == nil {
		c.failures = 0
	} else {
		c.failures++
	}
	c.pending[w.Sequence] = emission{res: res, err: err, when: time.Now().UTC()}
	c.flushReadyLocked()
	fatal := err != nil && c.failures >= c.cfg.MaxFailures && c.status == StatusActive
	c.mu.Unlock()

	if fatal {
		go c.fail("repeated recognition failures")
	}
}

// flushReadyLocked releases buffered results in window-sequence order. An
// early finisher waits here until every earlier window has resolved; a failed
// window occupies its slot as an error notification so ordering is never
// silently skipped. Caller holds c.mu.
func (c *Coordinator) flushReadyLocked() {
	for {
		e, ok := c.pending[c.nextEmit]
		if !ok {
			return
		}
		delete(c.pending, c.nextEmit)
		seq := c.nextEmit
		c.nextEmit++

		if e.err != nil {
			c.emitter.EmitError(protocol.ErrorMessage{
				Type:           protocol.TypeError,
				Kind:           string(recognizer.KindOf(e.err)),
				Message:        e.err.Error(),
				WindowSequence: seq,
			})
			continue
		}

		msg := protocol.Transcription{
			Type:           protocol.TypeTranscription,
			SessionID:      c.id,
			WindowSequence: seq,
			Text:           e.res.Text,
			Confidence:     e.res.Confidence,
			Language:       e.res.DetectedLanguage.String(),
			Timestamp:      e.when,
		}
		c.emitter.EmitTranscription(msg)

		if c.publisher != nil {
			c.publisher.PublishTranscript(protocol.TranscriptEvent{
				SessionID:      c.id,
				WindowSequence: seq,
				Text:           e.res.Text,
				Confidence:     e.res.Confidence,
				Language:       e.res.DetectedLanguage.String(),
				Timestamp:      e.when,
			})
		}
		if c.sink != nil {
			rec := store.Record{
				SessionID:      c.id,
				WindowSequence: seq,
				Text:           e.res.Text,
				Confidence:     e.res.Confidence,
				Language:       e.res.DetectedLanguage.String(),
				Timestamp:      e.when,
			}
			go c.persist(rec)
		}
	}
}

func (c *Coordinator) persist(rec store.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sink.AppendRecord(ctx, rec); err != nil {
		c.log.Warn("failed to persist transcript", slogError(err))
	}
}

// fail terminates the session after the consecutive-failure threshold. The
// client is informed before resources are torn down.
func (c *Coordinator) fail(reason string) {
	c.log.Error("session fatal", slog.String("reason", reason))
	c.emitter.EmitError(protocol.ErrorMessage{
		Type:    protocol.TypeError,
		Kind:    "session_fatal",
		Message: reason,
		Fatal:   true,
	})
	c.Stop()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
