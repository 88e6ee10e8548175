package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/wakeword/internal/app"
	"github.com/MrWong99/wakeword/internal/config"
	"github.com/MrWong99/wakeword/pkg/audio/source"
	"github.com/MrWong99/wakeword/pkg/audio/source/portaudio"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	oaikws "github.com/MrWong99/wakeword/pkg/provider/kws/openai"
	"github.com/MrWong99/wakeword/pkg/provider/kws/whisper"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
	"github.com/MrWong99/wakeword/pkg/provider/vad/energy"
	"github.com/MrWong99/wakeword/pkg/provider/vad/silero"
	"github.com/MrWong99/wakeword/pkg/provider/vad/webrtc"
)

// registerBuiltinProviders wires all built-in factories into reg. Each
// factory receives a config.ProviderEntry and constructs the implementation
// from the real packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Sources ───────────────────────────────────────────────────────────────

	reg.RegisterSource("ffmpeg", func(entry config.ProviderEntry) (source.Source, error) {
		var opts []source.ProcessOption
		if args := entry.OptStrings("args"); len(args) > 0 {
			opts = append(opts, source.WithArgs(args...))
		}
		return source.NewProcess(entry.Model, opts...), nil
	})

	reg.RegisterSource("file", func(entry config.ProviderEntry) (source.Source, error) {
		path := entry.OptString("path")
		if path == "" {
			return nil, errors.New("file source: options.path is required")
		}
		return source.NewFile(path, source.WithRealtime(entry.OptBool("realtime", false))), nil
	})

	reg.RegisterSource("portaudio", func(entry config.ProviderEntry) (source.Source, error) {
		return portaudio.New(entry.OptInt("frames_per_buffer", 0)), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if ms := entry.OptInt("frame_ms", 0); ms > 0 {
			opts = append(opts, energy.WithFrameMs(ms))
		}
		if n := entry.OptInt("start_frames", 0); n > 0 {
			opts = append(opts, energy.WithStartFrames(n))
		}
		if r := entry.OptFloat("release_ratio", 0); r > 0 {
			opts = append(opts, energy.WithReleaseRatio(r))
		}
		return tuned(entry, energy.New(opts...)), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		e, err := silero.New(modelPath)
		if err != nil {
			return nil, err
		}
		return tuned(entry, e), nil
	})

	reg.RegisterVAD("webrtc", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []webrtc.Option
		if ms := entry.OptInt("frame_ms", 0); ms > 0 {
			opts = append(opts, webrtc.WithFrameMs(ms))
		}
		if n := entry.OptInt("start_frames", 0); n > 0 {
			opts = append(opts, webrtc.WithStartFrames(n))
		}
		return tuned(entry, webrtc.New(opts...)), nil
	})

	// ── KWS ───────────────────────────────────────────────────────────────────

	reg.RegisterKWS("whisper", func(entry config.ProviderEntry) (kws.Engine, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		opts = append(opts, whisper.WithPrompt(entry.OptBool("prompt", true)))
		c, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return whisper.NewEngine(c, matchOptions(entry)...), nil
	})

	reg.RegisterKWS("whisper-native", func(entry config.ProviderEntry) (kws.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		n, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		return whisper.NewEngine(n, matchOptions(entry)...), nil
	})

	reg.RegisterKWS("openai", func(entry config.ProviderEntry) (kws.Engine, error) {
		var opts []oaikws.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaikws.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oaikws.WithLanguage(lang))
		}
		if d := entry.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, oaikws.WithTimeout(d))
		}
		if n := entry.OptInt("max_retries", -1); n >= 0 {
			opts = append(opts, oaikws.WithMaxRetries(n))
		}
		t, err := oaikws.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return oaikws.NewEngine(t, matchOptions(entry)...), nil
	})

	for _, kind := range []string{"source", "vad", "kws"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// tuned applies the shared VAD tuning options.
func tuned(entry config.ProviderEntry, e vad.Engine) vad.Engine {
	return vad.Tuned{
		Engine:       e,
		Threshold:    entry.OptFloat("threshold", 0),
		MinSilenceMs: entry.OptInt("min_silence_ms", 0),
		SpeechPadMs:  entry.OptInt("speech_pad_ms", 0),
	}
}

// matchOptions reads the keyword matcher thresholds.
func matchOptions(entry config.ProviderEntry) []kws.MatchOption {
	var opts []kws.MatchOption
	if v := entry.OptFloat("phonetic_threshold", 0); v > 0 {
		opts = append(opts, kws.WithPhoneticThreshold(v))
	}
	if v := entry.OptFloat("fuzzy_threshold", 0); v > 0 {
		opts = append(opts, kws.WithFuzzyThreshold(v))
	}
	return opts
}

// buildProviders instantiates the source and both engines named in cfg
// using the registry. All three are required.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	src, err := reg.CreateSource(cfg.Audio.Source)
	if err != nil {
		return nil, fmt.Errorf("create source %q: %w", cfg.Audio.Source.Name, err)
	}
	slog.Info("provider created", "kind", "source", "name", cfg.Audio.Source.Name)

	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	kwsEngine, err := reg.CreateKWS(cfg.Providers.KWS)
	if err != nil {
		return nil, fmt.Errorf("create kws provider %q: %w", cfg.Providers.KWS.Name, err)
	}
	slog.Info("provider created", "kind", "kws", "name", cfg.Providers.KWS.Name)

	return &app.Providers{Source: src, VAD: vadEngine, KWS: kwsEngine}, nil
}
