package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/wakeword/pkg/audio/source"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	source map[string]func(ProviderEntry) (source.Source, error)
	vad    map[string]func(ProviderEntry) (vad.Engine, error)
	kws    map[string]func(ProviderEntry) (kws.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		source: make(map[string]func(ProviderEntry) (source.Source, error)),
		vad:    make(map[string]func(ProviderEntry) (vad.Engine, error)),
		kws:    make(map[string]func(ProviderEntry) (kws.Engine, error)),
	}
}

// RegisterSource registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(ProviderEntry) (source.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterKWS registers a keyword spotting engine factory under name.
func (r *Registry) RegisterKWS(name string, factory func(ProviderEntry) (kws.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kws[name] = factory
}

// CreateSource instantiates an audio source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry ProviderEntry) (source.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateKWS instantiates a keyword spotting engine using the factory registered under entry.Name.
func (r *Registry) CreateKWS(entry ProviderEntry) (kws.Engine, error) {
	r.mu.RLock()
	factory, ok := r.kws[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kws/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted provider names registered for kind ("source",
// "vad" or "kws").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "source":
		for n := range r.source {
			names = append(names, n)
		}
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "kws":
		for n := range r.kws {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}

// ── Option accessors ─────────────────────────────────────────────────────────

// OptString returns Options[key] as a string, or "" when absent or not a
// string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns Options[key] as an int. YAML integers and floats with no
// fractional part are accepted; anything else yields def.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// OptFloat returns Options[key] as a float64, or def.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// OptBool returns Options[key] as a bool, or def.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if b, ok := e.Options[key].(bool); ok {
		return b
	}
	return def
}

// OptDuration returns Options[key] parsed as a duration string ("10s"), or
// def when absent or malformed.
func (e ProviderEntry) OptDuration(key string, def time.Duration) time.Duration {
	s := e.OptString(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// OptStrings returns Options[key] as a string slice. A YAML sequence of
// strings or a single string are accepted.
func (e ProviderEntry) OptStrings(key string) []string {
	switch v := e.Options[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
