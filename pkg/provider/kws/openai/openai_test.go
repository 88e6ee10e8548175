package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/wakeword/pkg/provider/kws"
)

func newServer(t *testing.T, status int, text string, calls *atomic.Int32, prompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err == nil && prompt != nil {
			*prompt = r.FormValue("prompt")
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if tr.model != DefaultModel {
		t.Errorf("model = %q, want %q", tr.model, DefaultModel)
	}
	if tr.language != "zh" {
		t.Errorf("language = %q, want zh", tr.language)
	}
}

func TestTranscribe_ReturnsText(t *testing.T) {
	var calls atomic.Int32
	var prompt string
	srv := newServer(t, http.StatusOK, "小云小云", &calls, &prompt)

	tr, err := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	text, err := tr.Transcribe(context.Background(), make([]float32, 1600), 16000, "小云小云, 你好小云")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "小云小云" {
		t.Errorf("text = %q", text)
	}
	if prompt != "小云小云, 你好小云" {
		t.Errorf("prompt = %q", prompt)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusBadRequest, "", &calls, nil)

	tr, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if _, err := tr.Transcribe(context.Background(), make([]float32, 160), 16000, ""); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 with retries disabled", calls.Load())
	}
}

func TestEngine_Detect(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusOK, "嗨小问，几点了", &calls, nil)
	tr, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"))

	sess, err := NewEngine(tr).NewSession(kws.Config{
		SampleRate: 16000,
		StrideMs:   480,
		Keywords:   []string{"小云小云", "嗨小问"},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sess.Detect(context.Background(), make([]float32, 9600))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "嗨小问" || res.Score != 1 {
		t.Errorf("result = %+v", res)
	}
}
