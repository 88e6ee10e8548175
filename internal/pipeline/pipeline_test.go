package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/wakeword/pkg/audio"
	srcmock "github.com/MrWong99/wakeword/pkg/audio/source/mock"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	kwsmock "github.com/MrWong99/wakeword/pkg/provider/kws/mock"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
	"github.com/MrWong99/wakeword/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/wakeword/pkg/provider/vad/mock"
)

// ---- helpers ----------------------------------------------------------------

func testConfig() Config {
	return Config{
		StartupTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		Keywords:       []string{"小云小云", "你好小云"},
	}
}

func silencePCM(chunks int) []byte {
	return make([]byte, chunks*testChunk*audio.BytesPerSample)
}

func speechPCM(chunks int) []byte {
	s := make([]float32, chunks*testChunk)
	for i := range s {
		s[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.Float32ToPCM(s)
}

func newTestPipeline(t *testing.T, cfg Config, src *srcmock.Source, v vad.Engine, k kws.Engine) (*Pipeline, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	p, err := New(cfg, src, v, k, WithSink(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Stop)
	return p, rec
}

// runToEnd starts p and waits until processing has ended.
func runToEnd(t *testing.T, p *Pipeline) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish within 5s")
	}
}

// ---- scenarios --------------------------------------------------------------

func TestPipeline_SilenceProducesNoSpeech(t *testing.T) {
	kwsSess := &kwsmock.Session{}
	src := &srcmock.Source{PCM: silencePCM(5)}
	p, rec := newTestPipeline(t, testConfig(), src, energy.New(), &kwsmock.Engine{Session: kwsSess})

	runToEnd(t, p)

	if err := p.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if n := rec.Count(EventSpeechStart); n != 0 {
		t.Errorf("speech start events = %d, want 0", n)
	}
	if n := len(kwsSess.Calls()); n != 0 {
		t.Errorf("keyword calls = %d, want 0", n)
	}
	st := p.Status()
	if st.WindowChunks != 0 || st.Chunks != 5 {
		t.Errorf("status = %+v, want 5 chunks and an empty window", st)
	}
}

func TestPipeline_StartMarkerThenThreeChunksInvokesKeywordOnce(t *testing.T) {
	vadSess := &vadmock.Session{Script: [][]vad.Segment{{vad.Start(0)}}}
	kwsSess := &kwsmock.Session{}
	src := &srcmock.Source{PCM: speechPCM(3)}
	p, rec := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess})

	runToEnd(t, p)

	calls := kwsSess.Calls()
	if len(calls) != 1 {
		t.Fatalf("keyword calls = %v, want exactly one", calls)
	}
	if calls[0] != 3*testChunk {
		t.Errorf("window = %d samples, want %d", calls[0], 3*testChunk)
	}
	if rec.Count(EventSpeechStart) != 1 {
		t.Errorf("speech start events = %d, want 1", rec.Count(EventSpeechStart))
	}
	// The open segment is flushed with a final call at end of stream.
	if last := vadSess.DetectCalls[len(vadSess.DetectCalls)-1]; !last.IsFinal {
		t.Error("no final VAD call at end of stream")
	}
}

func TestPipeline_WindowStabilisesAtCapacity(t *testing.T) {
	vadSess := &vadmock.Session{Script: [][]vad.Segment{{vad.Start(0)}}}
	kwsSess := &kwsmock.Session{}
	src := &srcmock.Source{PCM: speechPCM(12)}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess})

	runToEnd(t, p)

	if st := p.Status(); st.WindowChunks != 10 {
		t.Errorf("WindowChunks = %d, want 10", st.WindowChunks)
	}
	calls := kwsSess.Calls()
	if len(calls) != 10 || calls[len(calls)-1] != 10*testChunk {
		t.Errorf("keyword calls = %v", calls)
	}
}

func TestPipeline_AcceptedKeywordClearsWindow(t *testing.T) {
	vadSess := &vadmock.Session{Script: [][]vad.Segment{{vad.Start(0)}}}
	kwsSess := &kwsmock.Session{
		DetectFunc: func(_ int, window []float32) (kws.Result, error) {
			if len(window) == 7*testChunk {
				return kws.Result{Text: "你好小云", Score: 1}, nil
			}
			return kws.Reject(""), nil
		},
	}
	src := &srcmock.Source{PCM: speechPCM(7)}
	p, rec := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess})

	runToEnd(t, p)

	st := p.Status()
	if st.WindowChunks != 0 {
		t.Errorf("WindowChunks = %d, want 0 after accepted keyword", st.WindowChunks)
	}
	if st.WakeEvents != 1 || rec.Count(EventWake) != 1 {
		t.Errorf("wake events: status=%d sink=%d, want 1", st.WakeEvents, rec.Count(EventWake))
	}
	for _, ev := range rec.Events() {
		if ev.Kind == EventWake && (ev.Keyword != "你好小云" || ev.RunID != p.RunID()) {
			t.Errorf("wake event = %+v", ev)
		}
	}
}

func TestPipeline_StartupTimeout(t *testing.T) {
	vadSess := &vadmock.Session{}
	src := &srcmock.Source{PCM: speechPCM(3), StartBlock: make(chan struct{})}
	cfg := testConfig()
	cfg.StartupTimeout = 50 * time.Millisecond
	p, _ := newTestPipeline(t, cfg, src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{})

	begin := time.Now()
	err := p.Start(context.Background())
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Start = %v, want ErrStartupTimeout", err)
	}
	if elapsed := time.Since(begin); elapsed < 50*time.Millisecond {
		t.Errorf("Start returned after %v, before the timeout", elapsed)
	}

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after failed start")
	}
	// Give a wrongly launched processing goroutine the chance to read.
	time.Sleep(50 * time.Millisecond)
	if src.BytesRead != 0 || vadSess.Calls() != 0 {
		t.Errorf("processing ran after startup timeout: read=%d vad calls=%d", src.BytesRead, vadSess.Calls())
	}
	if p.Running() {
		t.Error("Running = true after startup timeout")
	}
	if src.Stops() == 0 {
		t.Error("source not stopped after startup timeout")
	}
}

// lateSource finishes launching after a fixed delay regardless of ctx, like
// a device open that cannot be interrupted. Stop only affects a started
// source.
type lateSource struct {
	delay time.Duration

	mu    sync.Mutex
	alive bool
	stops int
}

func (s *lateSource) Name() string { return "late" }

func (s *lateSource) Start(context.Context) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = true
	return nil
}

func (s *lateSource) Read([]byte) (int, error) { return 0, io.EOF }

func (s *lateSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *lateSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.alive = false
	return nil
}

func TestPipeline_StartupTimeoutStopsLateSource(t *testing.T) {
	src := &lateSource{delay: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.StartupTimeout = 50 * time.Millisecond
	cfg.JoinTimeout = 20 * time.Millisecond
	p, err := New(cfg, src, &vadmock.Engine{}, &kwsmock.Engine{}, WithSink(Discard))
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Start(context.Background()); !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Start = %v, want ErrStartupTimeout", err)
	}
	select {
	case <-p.captureDone:
	case <-time.After(2 * time.Second):
		t.Fatal("capture goroutine still running")
	}
	if src.Running() {
		t.Error("source left running after startup timeout")
	}
	src.mu.Lock()
	stops := src.stops
	src.mu.Unlock()
	if stops < 2 {
		t.Errorf("source Stop calls = %d, want a second call once the launch completed", stops)
	}
}

// ---- lifecycle --------------------------------------------------------------

func TestPipeline_ModelInitFailureIsFatal(t *testing.T) {
	boom := errors.New("model file missing")
	src := &srcmock.Source{}

	if _, err := New(testConfig(), src, &vadmock.Engine{NewSessionErr: boom}, &kwsmock.Engine{}); !errors.Is(err, boom) {
		t.Errorf("vad init: err = %v", err)
	}

	vadSess := &vadmock.Session{}
	_, err := New(testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{NewSessionErr: boom})
	if !errors.Is(err, boom) {
		t.Errorf("kws init: err = %v", err)
	}
	if vadSess.Closed() != 1 {
		t.Error("vad session leaked after kws init failure")
	}
}

func TestPipeline_SessionConfigs(t *testing.T) {
	v := &vadmock.Engine{}
	k := &kwsmock.Engine{}
	newTestPipeline(t, testConfig(), &srcmock.Source{}, v, k)

	vc := v.NewSessionCalls[0].Cfg
	if vc.SampleRate != 16000 || vc.ChunkSizeMs != 200 {
		t.Errorf("vad config = %+v", vc)
	}
	kc := k.NewSessionCalls[0]
	if kc.SampleRate != 16000 || kc.StrideMs != 480 || len(kc.Keywords) != 2 {
		t.Errorf("kws config = %+v", kc)
	}
}

func TestPipeline_SourceLaunchFailure(t *testing.T) {
	boom := errors.New("no capture device")
	src := &srcmock.Source{StartErr: boom}
	vadSess := &vadmock.Session{}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{})

	if err := p.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start = %v, want wrapped %v", err, boom)
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err = %v", p.Err())
	}
	if vadSess.Calls() != 0 {
		t.Error("processing ran after launch failure")
	}
}

func TestPipeline_SourceExitIsReported(t *testing.T) {
	src := &srcmock.Source{PCM: silencePCM(2), HoldOpen: true}
	p, _ := newTestPipeline(t, testConfig(), src, energy.New(), &kwsmock.Engine{})

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.Exit()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline kept running after source exit")
	}
	if !errors.Is(p.Err(), ErrSourceExited) {
		t.Errorf("Err = %v, want ErrSourceExited", p.Err())
	}
	if p.Running() {
		t.Error("Running = true after source exit")
	}
}

func TestPipeline_StopIsIdempotentAndJoins(t *testing.T) {
	src := &srcmock.Source{PCM: silencePCM(1), HoldOpen: true}
	vadSess := &vadmock.Session{}
	kwsSess := &kwsmock.Session{}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess})

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	begin := time.Now()
	p.Stop()
	p.Stop()
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}

	select {
	case <-p.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if p.Err() != nil {
		t.Errorf("Err = %v after clean stop", p.Err())
	}
	if vadSess.Closed() != 1 || kwsSess.Closed() != 1 {
		t.Errorf("sessions closed vad=%d kws=%d, want 1 each", vadSess.Closed(), kwsSess.Closed())
	}
	if src.Stops() != 1 {
		t.Errorf("source Stop calls = %d, want 1", src.Stops())
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestPipeline_StopBeforeStart(t *testing.T) {
	vadSess := &vadmock.Session{}
	p, _ := newTestPipeline(t, testConfig(), &srcmock.Source{}, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{})
	p.Stop()
	if vadSess.Closed() != 1 {
		t.Error("sessions not released by Stop before Start")
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestPipeline_InferenceErrorEndsProcessing(t *testing.T) {
	boom := errors.New("kws backend down")
	vadSess := &vadmock.Session{Script: [][]vad.Segment{{vad.Start(0)}}}
	kwsSess := &kwsmock.Session{DetectErr: boom}
	src := &srcmock.Source{PCM: speechPCM(6), HoldOpen: true}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess})

	runToEnd(t, p)

	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err = %v, want wrapped %v", p.Err(), boom)
	}
	if n := len(kwsSess.Calls()); n != 1 {
		t.Errorf("keyword calls = %d, want 1 (processing stops at the first error)", n)
	}
}

func TestPipeline_PanicIsRecovered(t *testing.T) {
	vadSess := &vadmock.Session{
		DetectFunc: func(int, []float32) ([]vad.Segment, error) { panic("detector state corrupted") },
	}
	src := &srcmock.Source{PCM: silencePCM(2), HoldOpen: true}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{})

	runToEnd(t, p)

	if p.Err() == nil {
		t.Fatal("Err = nil after panic in processing")
	}
	p.Stop() // must not panic
}

func TestPipeline_InferenceIgnoresStartCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	vadSess := &vadmock.Session{Script: [][]vad.Segment{{vad.Start(0)}}}
	kwsSess := &kwsmock.Session{}
	kwsSess.DetectFunc = func(int, []float32) (kws.Result, error) { return kws.Reject(""), nil }
	src := &srcmock.Source{PCM: speechPCM(3)}

	rec := &Recorder{}
	sink := SinkFunc(func(ctx context.Context, ev Event) {
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		rec.Publish(ctx, ev)
	})
	p, err := New(testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{Session: kwsSess}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-p.Done()

	if sawCancel.Load() {
		t.Error("processing context was cancelled with the start context")
	}
	if len(kwsSess.Calls()) != 1 {
		t.Errorf("keyword calls = %d, want 1", len(kwsSess.Calls()))
	}
}

func TestPipeline_MisalignedTailEndsStream(t *testing.T) {
	// One full chunk plus a trailing odd byte.
	pcm := append(silencePCM(1), 0x7f)
	vadSess := &vadmock.Session{}
	src := &srcmock.Source{PCM: pcm}
	p, _ := newTestPipeline(t, testConfig(), src, &vadmock.Engine{Session: vadSess}, &kwsmock.Engine{})

	runToEnd(t, p)

	if p.Err() != nil {
		t.Errorf("Err = %v, want nil for end of stream", p.Err())
	}
	if vadSess.Calls() != 1 {
		t.Errorf("VAD calls = %d, want 1", vadSess.Calls())
	}
}

func TestPipeline_StatusJSONFields(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), &srcmock.Source{}, &vadmock.Engine{}, &kwsmock.Engine{})
	st := p.Status()
	if st.RunID == "" || st.RunID != p.RunID() {
		t.Errorf("RunID = %q", st.RunID)
	}
	if st.Source != "mock" || st.Running {
		t.Errorf("status before start = %+v", st)
	}
}
