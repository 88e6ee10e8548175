package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"source": {"ffmpeg", "file", "portaudio"},
	"vad":    {"energy", "silero", "webrtc"},
	"kws":    {"whisper", "whisper-native", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("source", cfg.Audio.Source.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("kws", cfg.Providers.KWS.Name)

	if cfg.Providers.KWS.Name == "" {
		errs = append(errs, errors.New("providers.kws.name is required"))
	}
	if cfg.Audio.Source.Name == "file" && cfg.Audio.Source.OptString("path") == "" {
		errs = append(errs, errors.New("audio.source.options.path is required for the file source"))
	}

	// Pipeline
	if err := cfg.PipelineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if len(cfg.KeywordList()) == 0 {
		errs = append(errs, errors.New("keywords: at least one non-empty keyword is required"))
	}

	// Events
	if cfg.Events.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("events.queue_size %d must not be negative", cfg.Events.QueueSize))
	}
	if len(cfg.Events.OriginPatterns) > 0 && !cfg.Events.WebSocket {
		slog.Warn("events.origin_patterns is set but events.websocket is disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
