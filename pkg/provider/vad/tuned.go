package vad

// Tuned wraps an Engine and fills the tuning fields of every session Config
// that the caller left at zero. It carries per-deployment settings (from a
// config file) to engines whose sessions are created by code that only knows
// the stream format.
type Tuned struct {
	Engine

	Threshold    float64
	MinSilenceMs int
	SpeechPadMs  int
}

// NewSession implements [Engine].
func (t Tuned) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = t.Threshold
	}
	if cfg.MinSilenceMs == 0 {
		cfg.MinSilenceMs = t.MinSilenceMs
	}
	if cfg.SpeechPadMs == 0 {
		cfg.SpeechPadMs = t.SpeechPadMs
	}
	return t.Engine.NewSession(cfg)
}
