package pipeline

import "sync/atomic"

// SpeechState is the Speaking/Silent flag. Only the segmenter writes it, from
// the processing goroutine; other goroutines may read it at any time.
type SpeechState struct {
	speaking atomic.Bool
}

// Speaking reports whether speech is in progress.
func (s *SpeechState) Speaking() bool { return s.speaking.Load() }

// Set stores speaking and reports whether that changed the state. Setting the
// current value again is a no-op.
func (s *SpeechState) Set(speaking bool) (changed bool) {
	return s.speaking.Swap(speaking) != speaking
}
