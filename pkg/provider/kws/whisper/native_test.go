package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/wakeword/pkg/provider/kws/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_RejectsWrongRate(t *testing.T) {
	n, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	if _, err := n.Transcribe(context.Background(), make([]float32, 8000), 8000, ""); err == nil {
		t.Fatal("expected error for 8 kHz input")
	}
}

func TestNative_SilenceTranscribes(t *testing.T) {
	n, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("zh"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	if _, err := n.Transcribe(context.Background(), make([]float32, 16000), 16000, ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}
