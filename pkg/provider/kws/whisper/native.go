// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/wakeword/pkg/provider/kws"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// nativeSampleRate is the only input rate whisper.cpp models accept.
const nativeSampleRate = 16000

// Compile-time assertion that Native satisfies kws.Transcriber.
var _ kws.Transcriber = (*Native)(nil)

// Native transcribes keyword windows in-process with the whisper.cpp
// bindings. The model is loaded once and shared; each call creates its own
// inference context.
type Native struct {
	model    whisperlib.Model
	language string

	// whisper.cpp contexts are not cheap; limit concurrent inference to one.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription. Defaults to
// "zh".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp over samples, which must already be at the
// model's 16 kHz rate. prompt is unused; the bindings decode without a hint.
func (n *Native) Transcribe(ctx context.Context, samples []float32, sampleRate int, _ string) (string, error) {
	if sampleRate != nativeSampleRate {
		return "", fmt.Errorf("whisper: native inference needs %d Hz audio, got %d", nativeSampleRate, sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
