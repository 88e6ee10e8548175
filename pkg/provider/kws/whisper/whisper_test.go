package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	"github.com/MrWong99/wakeword/pkg/provider/kws/whisper"
)

// ---- helpers ----------------------------------------------------------------

type captured struct {
	language string
	model    string
	prompt   string
	wav      []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. The last request's form fields are
// stored in *last.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, last *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			last.language = r.FormValue("language")
			last.model = r.FormValue("model")
			last.prompt = r.FormValue("prompt")
			if f, _, err := r.FormFile("file"); err == nil {
				last.wav, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeech generates a 440 Hz sine window of n samples.
func makeSpeech(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	c, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("en"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
		whisper.WithPrompt(false),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil Client")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	var last captured
	srv := newMockServer(t, "小云小云", nil, &last)

	c, err := whisper.New(srv.URL, whisper.WithModel("small"))
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.Transcribe(context.Background(), makeSpeech(3200), 16000, "小云小云, 你好小云")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "小云小云" {
		t.Errorf("text = %q", text)
	}
	if last.language != "zh" || last.model != "small" || last.prompt != "小云小云, 你好小云" {
		t.Errorf("fields = %+v", last)
	}
	if len(last.wav) != 44+3200*2 {
		t.Errorf("wav size = %d, want %d", len(last.wav), 44+3200*2)
	}
	if string(last.wav[0:4]) != "RIFF" || string(last.wav[8:12]) != "WAVE" {
		t.Error("upload is not a RIFF/WAVE file")
	}
}

func TestTranscribe_PromptDisabled(t *testing.T) {
	var last captured
	srv := newMockServer(t, "", nil, &last)
	c, _ := whisper.New(srv.URL, whisper.WithPrompt(false))
	if _, err := c.Transcribe(context.Background(), makeSpeech(160), 16000, "小云小云"); err != nil {
		t.Fatal(err)
	}
	if last.prompt != "" {
		t.Errorf("prompt sent although disabled: %q", last.prompt)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), makeSpeech(160), 16000, ""); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), makeSpeech(160), 16000, ""); err == nil {
		t.Fatal("expected JSON parse error")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "小云小云", nil, nil)
	c, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Transcribe(ctx, makeSpeech(160), 16000, ""); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- engine -----------------------------------------------------------------

func TestEngine_DetectsKeyword(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "嗯 你好问问 今天天气", &calls, nil)
	c, _ := whisper.New(srv.URL)

	sess, err := whisper.NewEngine(c).NewSession(kws.Config{
		SampleRate: 16000,
		StrideMs:   480,
		Keywords:   []string{"小云小云", "你好问问"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	window := makeSpeech(audio.SamplesPerDuration(16000, 600*time.Millisecond))
	res, err := sess.Detect(context.Background(), window)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Accepted() || res.Text != "你好问问" {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestEngine_RejectsOtherSpeech(t *testing.T) {
	srv := newMockServer(t, "播放一首歌", nil, nil)
	c, _ := whisper.New(srv.URL)

	sess, err := whisper.NewEngine(c).NewSession(kws.Config{SampleRate: 16000, Keywords: []string{"小云小云"}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sess.Detect(context.Background(), makeSpeech(3200))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != kws.Rejected {
		t.Errorf("Text = %q, want %q", res.Text, kws.Rejected)
	}
}
