// Package whisper provides whisper.cpp-backed keyword spotting.
//
// Two transcribers are offered. [Client] talks to a running whisper-server
// binary over its REST API (POST /inference). [Native] links the whisper.cpp
// library through its CGO bindings and runs inference in-process.
//
// Either one is turned into a [kws.Engine] with [NewEngine], which
// transcribes every keyword window and matches the text against the session's
// keyword list.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("zh"))
//	engine := whisper.NewEngine(c)
//	sess, err := engine.NewSession(kws.Config{SampleRate: 16000, Keywords: kw})
//	res, err := sess.Detect(ctx, window)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
)

const (
	defaultLanguage = "zh"
	defaultTimeout  = 10 * time.Second
)

// Compile-time assertion that Client implements kws.Transcriber.
var _ kws.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the language code sent to the server (e.g., "zh", "en").
// Defaults to "zh".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPrompt controls whether the keyword list is sent as the initial prompt.
// Defaults to true.
func WithPrompt(enabled bool) Option {
	return func(c *Client) { c.sendPrompt = enabled }
}

// Client transcribes keyword windows with a whisper.cpp HTTP server. It is
// safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	language   string
	sendPrompt bool
	httpClient *http.Client
}

// New creates a Client for the whisper.cpp server at serverURL (e.g.,
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		language:   defaultLanguage,
		sendPrompt: true,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewEngine wraps t in a keyword spotting engine that matches transcripts
// with the default [kws.Matcher].
func NewEngine(t kws.Transcriber, opts ...kws.MatchOption) *kws.TranscribingEngine {
	return kws.NewTranscribingEngine("whisper", t, kws.NewMatcher(opts...))
}

// Transcribe encodes samples as a WAV file and POSTs it to the /inference
// endpoint as multipart/form-data.
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int, prompt string) (string, error) {
	wav := audio.EncodeWAVSamples(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"language":        c.language,
		"model":           c.model,
		"response_format": "json",
	}
	if c.sendPrompt {
		fields["prompt"] = prompt
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
