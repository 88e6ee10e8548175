package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for [Config].
const (
	DefaultSampleRate      = 16000
	DefaultVADChunkMs      = 200
	DefaultKWSStrideMs     = 480
	DefaultWindowCapacity  = 10
	DefaultMinWindowChunks = 3
	DefaultStartupTimeout  = 5 * time.Second
	DefaultJoinTimeout     = time.Second
	DefaultPollInterval    = 100 * time.Millisecond
)

// Config holds the fixed parameters of one pipeline run. Zero fields take
// the defaults above.
type Config struct {
	// SampleRate of the source stream in Hz.
	SampleRate int

	// VADChunkMs is the chunk duration handed to the voice activity model.
	VADChunkMs int

	// KWSStrideMs is the stride hint for the keyword model.
	KWSStrideMs int

	// WindowCapacity bounds the keyword window in chunks.
	WindowCapacity int

	// MinWindowChunks is the fill level at which the keyword model runs.
	MinWindowChunks int

	// StartupTimeout bounds the wait for the capture goroutine's readiness
	// signal.
	StartupTimeout time.Duration

	// JoinTimeout bounds the wait for each goroutine on Stop.
	JoinTimeout time.Duration

	// PollInterval is the source liveness poll period.
	PollInterval time.Duration

	// Keywords is passed to the keyword model session.
	Keywords []string
}

// withDefaults returns c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.VADChunkMs == 0 {
		c.VADChunkMs = DefaultVADChunkMs
	}
	if c.KWSStrideMs == 0 {
		c.KWSStrideMs = DefaultKWSStrideMs
	}
	if c.WindowCapacity == 0 {
		c.WindowCapacity = DefaultWindowCapacity
	}
	if c.MinWindowChunks == 0 {
		c.MinWindowChunks = DefaultMinWindowChunks
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// validate reports every invalid field at once.
func (c Config) validate() error {
	var errs []error
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate %d is negative", c.SampleRate))
	}
	if c.VADChunkMs < 0 {
		errs = append(errs, fmt.Errorf("vad chunk %d ms is negative", c.VADChunkMs))
	}
	if c.KWSStrideMs < 0 {
		errs = append(errs, fmt.Errorf("kws stride %d ms is negative", c.KWSStrideMs))
	}
	if c.WindowCapacity < 0 {
		errs = append(errs, fmt.Errorf("window capacity %d is negative", c.WindowCapacity))
	}
	if c.MinWindowChunks < 0 || (c.WindowCapacity > 0 && c.MinWindowChunks > c.WindowCapacity) {
		errs = append(errs, fmt.Errorf("min window chunks %d must be within [1, %d]", c.MinWindowChunks, c.WindowCapacity))
	}
	if c.SampleRate > 0 && c.VADChunkMs > 0 && c.SampleRate*c.VADChunkMs%1000 != 0 {
		errs = append(errs, fmt.Errorf("vad chunk %d ms is not a whole number of samples at %d Hz", c.VADChunkMs, c.SampleRate))
	}
	if c.StartupTimeout < 0 || c.JoinTimeout < 0 || c.PollInterval < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

// ChunkSamples returns the number of samples per VAD chunk.
func (c Config) ChunkSamples() int {
	c = c.withDefaults()
	return c.VADChunkMs * c.SampleRate / 1000
}

// Validate reports every invalid field of c after defaults are applied.
func (c Config) Validate() error {
	return c.withDefaults().validate()
}
