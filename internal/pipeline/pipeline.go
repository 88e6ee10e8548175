// Package pipeline implements the streaming wake word pipeline.
//
// A [Pipeline] owns two goroutines. The capture goroutine starts the audio
// source, signals readiness once, and then polls the source's liveness. The
// processing goroutine reads fixed-size PCM blocks, converts and appends them
// to a ring buffer, and feeds every complete chunk through the [Segmenter]
// and, while speech is in progress, the [Spotter].
//
// The ring buffer is the only structure the two goroutines share. Speech
// state and the keyword window belong to the processing goroutine.
//
// Shutdown is cooperative: [Pipeline.Stop] clears the running flag, stops
// the source (which unblocks a pending read) and joins both goroutines with a
// bounded wait. In-flight inference is never cancelled; it runs to
// completion with a context detached from cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/wakeword/internal/observe"
	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/audio/source"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

var (
	// ErrStartupTimeout is returned by Start when the source does not become
	// ready within Config.StartupTimeout.
	ErrStartupTimeout = errors.New("pipeline: audio source not ready before startup timeout")

	// ErrSourceExited is reported by Err when the audio source terminated
	// while the pipeline was running.
	ErrSourceExited = errors.New("pipeline: audio source exited")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pipeline: already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("pipeline: stopped")
)

// Pipeline is one wake word detection run over one audio source.
type Pipeline struct {
	cfg          Config
	chunkSamples int

	src       source.Source
	vadSess   vad.SessionHandle
	kwsSess   kws.SessionHandle
	conv      *audio.FrameConverter
	ring      *audio.RingBuffer
	state     SpeechState
	segmenter *Segmenter
	spotter   *Spotter

	metrics *observe.Metrics
	logger  *slog.Logger
	runID   string

	mu          sync.Mutex
	started     bool
	stopped     bool
	startedAt   time.Time
	inferCtx    context.Context
	cancelStart context.CancelFunc

	running     atomic.Bool
	stopCh      chan struct{}
	captureDone chan struct{}
	processDone chan struct{}
	finishOnce  sync.Once
	stopOnce    sync.Once

	errMu sync.Mutex
	err   error

	chunks    atomic.Int64
	wakes     atomic.Int64
	windowLen atomic.Int64
}

// New creates the voice activity and keyword sessions for src. A session
// creation failure is returned as is; nothing is retried.
func New(cfg Config, src source.Source, vadEngine vad.Engine, kwsEngine kws.Engine, opts ...Option) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if src == nil || vadEngine == nil || kwsEngine == nil {
		return nil, errors.New("pipeline: source, vad engine and kws engine are required")
	}

	o := applyOptions(opts)
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	o.logger = o.logger.With("run_id", o.runID)

	vadSess, err := vadEngine.NewSession(vad.Config{
		SampleRate:  cfg.SampleRate,
		ChunkSizeMs: cfg.VADChunkMs,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create vad session: %w", err)
	}
	kwsSess, err := kwsEngine.NewSession(kws.Config{
		SampleRate: cfg.SampleRate,
		StrideMs:   cfg.KWSStrideMs,
		Keywords:   cfg.Keywords,
	})
	if err != nil {
		_ = vadSess.Close()
		return nil, fmt.Errorf("pipeline: create kws session: %w", err)
	}

	p := &Pipeline{
		cfg:          cfg,
		chunkSamples: cfg.ChunkSamples(),
		src:          src,
		vadSess:      vadSess,
		kwsSess:      kwsSess,
		conv:         &audio.FrameConverter{Logger: o.logger},
		metrics:      o.metrics,
		logger:       o.logger,
		runID:        o.runID,
		stopCh:       make(chan struct{}),
		captureDone:  make(chan struct{}),
		processDone:  make(chan struct{}),
	}
	p.ring = audio.NewRingBuffer(p.chunkSamples * 2)

	shared := []Option{WithLogger(o.logger), WithMetrics(o.metrics), WithRunID(o.runID)}
	p.segmenter = NewSegmenter(vadSess, &p.state, o.sink, shared...)
	p.spotter = NewSpotter(kwsSess, NewWindow(cfg.WindowCapacity), cfg.MinWindowChunks, cfg.SampleRate, o.sink, shared...)
	return p, nil
}

// RunID returns the identifier stamped on this run's events.
func (p *Pipeline) RunID() string { return p.runID }

// Start launches the capture goroutine, waits for the source to become ready
// and then launches the processing goroutine. A source launch failure or a
// readiness timeout stops the pipeline and is returned; in that case the
// processing goroutine is never launched.
//
// ctx bounds the startup wait. Values in ctx are passed on to inference
// calls, but its cancellation is not.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.stopped:
		p.mu.Unlock()
		return ErrStopped
	case p.started:
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.startedAt = time.Now()
	p.inferCtx = context.WithoutCancel(ctx)
	startCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelStart = cancel
	p.mu.Unlock()

	p.running.Store(true)
	ready := make(chan struct{})
	launchErr := make(chan error, 1)
	go p.capture(startCtx, ready, launchErr)

	timer := time.NewTimer(p.cfg.StartupTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-ready:
	case lerr := <-launchErr:
		err = fmt.Errorf("pipeline: start source %s: %w", p.src.Name(), lerr)
	case <-timer.C:
		err = ErrStartupTimeout
	case <-ctx.Done():
		err = fmt.Errorf("pipeline: start: %w", ctx.Err())
	}
	if err != nil {
		p.setErr(err)
		p.finish()
		p.Stop()
		return err
	}

	go p.process()
	return nil
}

// capture starts the source, signals readiness, and watches liveness until
// stop or source exit. It never touches the buffers.
func (p *Pipeline) capture(ctx context.Context, ready chan<- struct{}, launchErr chan<- error) {
	defer close(p.captureDone)

	if err := p.src.Start(ctx); err != nil {
		p.running.Store(false)
		launchErr <- err
		return
	}
	if !p.running.Load() {
		// Stop ran while the source was still launching, so its Stop found
		// nothing to terminate.
		p.logger.Warn("audio source finished launching after stop", "source", p.src.Name())
		if err := p.src.Stop(); err != nil {
			p.logger.Warn("stop audio source", "source", p.src.Name(), "err", err)
		}
		return
	}
	close(ready)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !p.running.Load() {
				return
			}
			if !p.src.Running() {
				p.sourceExited()
				return
			}
		}
	}
}

// sourceExited records an unexpected source termination once.
func (p *Pipeline) sourceExited() {
	if p.running.CompareAndSwap(true, false) {
		p.logger.Warn("audio source exited", "source", p.src.Name())
		p.setErr(ErrSourceExited)
	}
}

// process is the processing goroutine: read, convert, append, drain.
func (p *Pipeline) process() {
	defer p.finish()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline: panic in processing: %v", r)
			p.logger.Error("processing aborted", "err", err)
			p.setErr(err)
			p.running.Store(false)
		}
	}()

	ctx := p.inferCtx
	block := make([]byte, p.chunkSamples*audio.BytesPerSample)
	for p.running.Load() {
		n, rerr := io.ReadFull(p.src, block)
		if n == 0 {
			p.endOfStream(ctx, rerr)
			return
		}
		if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			p.endOfStream(ctx, rerr)
			return
		}

		samples, err := p.conv.Convert(block[:n])
		if err != nil {
			p.endOfStream(ctx, nil)
			return
		}
		p.ring.Append(samples)

		if err := p.drain(ctx); err != nil {
			p.logger.Error("processing aborted", "err", err)
			p.setErr(err)
			p.running.Store(false)
			return
		}
		if rerr != nil {
			p.endOfStream(ctx, nil)
			return
		}
	}
}

// drain feeds every complete chunk through the segmenter and, while
// speaking, the spotter.
func (p *Pipeline) drain(ctx context.Context) error {
	defer func() {
		p.metrics.BufferedSamples.Record(ctx, int64(p.ring.Len()))
	}()
	for p.running.Load() {
		chunk, ok := p.ring.TryExtract(p.chunkSamples)
		if !ok {
			return nil
		}
		p.chunks.Add(1)
		p.metrics.Chunks.Add(ctx, 1)

		if err := p.segmenter.OnChunk(ctx, chunk); err != nil {
			return err
		}
		if !p.state.Speaking() {
			continue
		}
		accepted, err := p.spotter.OnChunk(ctx, chunk)
		p.windowLen.Store(int64(p.spotter.Window().Len()))
		if err != nil {
			return err
		}
		if accepted {
			p.wakes.Add(1)
		}
	}
	return nil
}

// endOfStream handles the end of input. A read error while the pipeline is
// still running is reported; an empty read or EOF is a normal end.
func (p *Pipeline) endOfStream(ctx context.Context, readErr error) {
	stillRunning := p.running.Load()
	switch {
	case !stillRunning:
		return
	case readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF):
		err := fmt.Errorf("pipeline: read source: %w", readErr)
		p.logger.Error("processing aborted", "err", err)
		p.setErr(err)
	case !p.src.Running():
		p.sourceExited()
	default:
		p.logger.Info("end of audio stream", "chunks", p.chunks.Load(), "buffered_samples", p.ring.Len())
	}

	if p.state.Speaking() {
		if err := p.segmenter.Flush(ctx); err != nil {
			p.logger.Warn("vad flush failed", "err", err)
		}
	}
	p.running.Store(false)
}

// finish closes processDone exactly once.
func (p *Pipeline) finish() {
	p.finishOnce.Do(func() { close(p.processDone) })
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Err returns why processing ended: nil for a normal end of stream or Stop,
// otherwise the first failure.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Done is closed when processing has ended, or when Start failed.
func (p *Pipeline) Done() <-chan struct{} { return p.processDone }

// Running reports whether the pipeline is processing audio.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Speaking reports the current speech state.
func (p *Pipeline) Speaking() bool { return p.state.Speaking() }

// Stop ends the run: it clears the running flag, stops the source and waits
// up to Config.JoinTimeout for each goroutine, proceeding regardless. The
// model sessions are closed once processing has exited. Stop is idempotent,
// safe before Start, and never panics.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic during stop", "panic", r)
			}
		}()

		p.mu.Lock()
		p.stopped = true
		started := p.started
		cancel := p.cancelStart
		p.mu.Unlock()

		p.running.Store(false)
		close(p.stopCh)
		if cancel != nil {
			cancel()
		}
		if err := p.src.Stop(); err != nil {
			p.logger.Warn("stop audio source", "source", p.src.Name(), "err", err)
		}

		if !started {
			p.finish()
			p.closeSessions()
			return
		}

		p.join("capture", p.captureDone)
		if p.join("processing", p.processDone) {
			p.closeSessions()
		}
	})
}

// join waits for done up to the join timeout and reports whether it closed.
func (p *Pipeline) join(name string, done <-chan struct{}) bool {
	t := time.NewTimer(p.cfg.JoinTimeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		p.logger.Warn("goroutine did not exit within join timeout", "goroutine", name, "timeout", p.cfg.JoinTimeout)
		return false
	}
}

func (p *Pipeline) closeSessions() {
	if err := errors.Join(p.vadSess.Close(), p.kwsSess.Close()); err != nil {
		p.logger.Warn("close model sessions", "err", err)
	}
}

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	RunID           string    `json:"run_id"`
	Source          string    `json:"source"`
	Running         bool      `json:"running"`
	SourceAlive     bool      `json:"source_alive"`
	Speaking        bool      `json:"speaking"`
	BufferedSamples int       `json:"buffered_samples"`
	WindowChunks    int       `json:"window_chunks"`
	Chunks          int64     `json:"chunks"`
	WakeEvents      int64     `json:"wake_events"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// Status returns a snapshot. It is safe to call from any goroutine.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()

	st := Status{
		RunID:           p.runID,
		Source:          p.src.Name(),
		Running:         p.running.Load(),
		SourceAlive:     p.src.Running(),
		Speaking:        p.state.Speaking(),
		BufferedSamples: p.ring.Len(),
		WindowChunks:    int(p.windowLen.Load()),
		Chunks:          p.chunks.Load(),
		WakeEvents:      p.wakes.Load(),
		StartedAt:       startedAt,
	}
	if err := p.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
