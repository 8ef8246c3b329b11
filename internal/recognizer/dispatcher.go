package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sorolabs/soro/internal/audio"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
)

// NewEngine constructs the configured engine variant.
func NewEngine(cfg config.RecognizerConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	case "openai":
		return NewOpenAIEngine(cfg), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}

type job struct {
	window audio.Window
	lang   language.Tag
	done   chan outcome
}

type outcome struct {
	res Result
	err error
}

// Dispatcher runs recognition on a bounded worker pool shared across all
// sessions. Submissions queue up to the configured depth; beyond that they
// fail fast with a backpressure error instead of blocking the intake path.
type Dispatcher struct {
	engine  Engine
	timeout time.Duration
	queue   chan *job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *slog.Logger
	closed  atomic.Bool
	workers int

	meter       metric.Meter
	submissions metric.Int64Counter
	latency     metric.Float64Histogram
	inflight    metric.Int64UpDownCounter
}

func NewDispatcher(parent context.Context, cfg config.RecognizerConfig, engine Engine, log *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	d := &Dispatcher{
		engine:  engine,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		queue:   make(chan *job, cfg.QueueDepth),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(slog.String("component", "dispatcher")),
		workers: cfg.Workers,
		meter:   otel.Meter("github.com/sorolabs/soro/recognizer"),
	}
	d.initMetrics()
	return d
}

func (d *Dispatcher) initMetrics() {
	var err error
	d.submissions, err = d.meter.Int64Counter("soro.recognition.submissions",
		metric.WithDescription("Window submissions by outcome"))
	if err != nil {
		d.log.Warn("failed to initialize submissions counter", slogError(err))
	}
	d.latency, err = d.meter.Float64Histogram("soro.recognition.latency",
		metric.WithDescription("Recognition latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		d.log.Warn("failed to initialize latency histogram", slogError(err))
	}
	d.inflight, err = d.meter.Int64UpDownCounter("soro.recognition.inflight",
		metric.WithDescription("Recognitions currently executing"))
	if err != nil {
		d.log.Warn("failed to initialize inflight counter", slogError(err))
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Close stops accepting work and waits for in-flight recognitions to finish
// or hit their per-submission timeout.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Submit runs one window through the engine. It blocks only the calling
// dispatch task: queue saturation fails fast with a backpressure error and
// every accepted submission resolves within the per-submission timeout.
func (d *Dispatcher) Submit(ctx context.Context, w audio.Window, lang language.Tag) (Result, error) {
	if d.closed.Load() {
		return Result{}, ErrClosed
	}

	j := &job{window: w, lang: lang, done: make(chan outcome, 1)}
	select {
	case d.queue <- j:
	default:
		d.count("rejected")
		return Result{}, &Error{Kind: KindBackpressure, Err: fmt.Errorf("queue full (%d waiting)", cap(d.queue))}
	}

	select {
	case out := <-j.done:
		return out.res, out.err
	case <-ctx.Done():
		d.count("abandoned")
		return Result{}, &Error{Kind: KindTimeout, Err: ctx.Err()}
	case <-d.ctx.Done():
		return Result{}, ErrClosed
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-d.queue:
			j.done <- d.execute(j)
		}
	}
}

func (d *Dispatcher) execute(j *job) outcome {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if d.inflight != nil {
		d.inflight.Add(ctx, 1)
		defer d.inflight.Add(context.Background(), -1)
	}

	start := time.Now()
	res, err := d.engine.Transcribe(ctx, j.window.PCMBytes(), j.window.SampleRate, j.lang)
	elapsed := time.Since(start)
	if d.latency != nil {
		d.latency.Record(context.Background(), elapsed.Seconds())
	}

	if err != nil {
		kind := KindModelFailure
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		d.count(string(kind))
		d.log.Warn("recognition failed",
			slog.Uint64("window", j.window.Sequence),
			slog.String("kind", string(kind)),
			slogError(err))
		return outcome{err: &Error{Kind: kind, Err: err}}
	}

	d.count("ok")
	return outcome{res: res}
}

func (d *Dispatcher) count(outcome string) {
	if d.submissions == nil {
		return
	}
	d.submissions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
