// Package openai provides keyword spotting backed by the OpenAI audio
// transcription API. Each keyword window is uploaded as a WAV file, and the
// returned text is matched against the keyword list.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Transcriber implements the kws.Transcriber interface.
var _ kws.Transcriber = (*Transcriber)(nil)

// Transcriber implements kws.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server that
// implements the /audio/transcriptions endpoint works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language hint. Defaults to "zh".
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often a failed request is retried. Defaults to 1;
// a keyword window is stale after a few strides.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Transcriber. If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai kws: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{language: "zh", maxRetries: 1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(model),
		language: cfg.language,
	}, nil
}

// NewEngine wraps t in a keyword spotting engine.
func NewEngine(t *Transcriber, opts ...kws.MatchOption) *kws.TranscribingEngine {
	return kws.NewTranscribingEngine("openai", t, kws.NewMatcher(opts...))
}

// Transcribe implements kws.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, prompt string) (string, error) {
	wav := audio.EncodeWAVSamples(samples, sampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: t.model,
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	if prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai kws: transcribe: %w", err)
	}
	return resp.Text, nil
}
