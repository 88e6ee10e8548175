package vad_test

import (
	"testing"

	"github.com/MrWong99/wakeword/pkg/provider/vad"
	"github.com/MrWong99/wakeword/pkg/provider/vad/mock"
)

func TestTuned_FillsZeroFields(t *testing.T) {
	eng := &mock.Engine{}
	tuned := vad.Tuned{Engine: eng, Threshold: 0.6, MinSilenceMs: 400, SpeechPadMs: 20}

	if _, err := tuned.NewSession(vad.Config{SampleRate: 16000, ChunkSizeMs: 200}); err != nil {
		t.Fatal(err)
	}
	if _, err := tuned.NewSession(vad.Config{SampleRate: 16000, Threshold: 0.3}); err != nil {
		t.Fatal(err)
	}

	got := eng.NewSessionCalls
	if len(got) != 2 {
		t.Fatalf("NewSession calls = %d, want 2", len(got))
	}
	want := vad.Config{SampleRate: 16000, ChunkSizeMs: 200, Threshold: 0.6, MinSilenceMs: 400, SpeechPadMs: 20}
	if got[0].Cfg != want {
		t.Errorf("first config = %+v, want %+v", got[0].Cfg, want)
	}
	if got[1].Cfg.Threshold != 0.3 {
		t.Errorf("explicit threshold overridden: %+v", got[1].Cfg)
	}
}
