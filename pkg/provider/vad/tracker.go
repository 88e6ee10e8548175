package vad

// Tracker turns a stream of per-frame speech decisions into boundary
// markers. A segment opens after StartFrames consecutive voiced frames and
// closes after HangoverFrames consecutive unvoiced ones. Frame-level
// backends (energy, webrtc) share it; model backends that emit their own
// segments do not need it.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	FrameMs        int
	StartFrames    int
	HangoverFrames int
	PadMs          int

	inSpeech   bool
	voicedRun  int
	quietRun   int
	posMs      int64
	candidate  int64
	segStart   int64
	lastVoiced int64
}

// InSpeech reports whether a segment is currently open.
func (t *Tracker) InSpeech() bool { return t.inSpeech }

// PositionMs returns the stream offset after the last observed frame.
func (t *Tracker) PositionMs() int64 { return t.posMs }

// Observe consumes the decision for the next frame and returns a marker when
// it completes a boundary.
func (t *Tracker) Observe(voiced bool) (Segment, bool) {
	frameStart := t.posMs
	t.posMs += int64(t.FrameMs)

	if !t.inSpeech {
		if !voiced {
			t.voicedRun = 0
			return Segment{}, false
		}
		if t.voicedRun == 0 {
			t.candidate = frameStart
		}
		t.voicedRun++
		if t.voicedRun < max(t.StartFrames, 1) {
			return Segment{}, false
		}
		t.inSpeech = true
		t.voicedRun = 0
		t.quietRun = 0
		t.segStart = max(t.candidate-int64(t.PadMs), 0)
		t.lastVoiced = t.posMs
		return Start(t.segStart), true
	}

	if voiced {
		t.quietRun = 0
		t.lastVoiced = t.posMs
		return Segment{}, false
	}
	t.quietRun++
	if t.quietRun < max(t.HangoverFrames, 1) {
		return Segment{}, false
	}
	return t.close(), true
}

// Flush closes an open segment at the current position. It is used when the
// stream ends.
func (t *Tracker) Flush() (Segment, bool) {
	if !t.inSpeech {
		return Segment{}, false
	}
	return t.close(), true
}

func (t *Tracker) close() Segment {
	end := min(t.lastVoiced+int64(t.PadMs), t.posMs)
	t.inSpeech = false
	t.quietRun = 0
	t.voicedRun = 0
	return End(t.segStart, end)
}

// Reset clears all state including the stream position.
func (t *Tracker) Reset() {
	t.inSpeech = false
	t.voicedRun = 0
	t.quietRun = 0
	t.posMs = 0
	t.candidate = 0
	t.segStart = 0
	t.lastVoiced = 0
}

// Framer cuts arbitrary-length sample runs into fixed-size frames, carrying
// the remainder over to the next call.
type Framer struct {
	Size    int
	pending []float32
}

// Frames appends samples and calls fn for every complete frame. The slice
// passed to fn is only valid for the duration of the call.
func (f *Framer) Frames(samples []float32, fn func(frame []float32) error) error {
	f.pending = append(f.pending, samples...)
	n := 0
	for ; n+f.Size <= len(f.pending); n += f.Size {
		if err := fn(f.pending[n : n+f.Size]); err != nil {
			f.pending = append(f.pending[:0], f.pending[n+f.Size:]...)
			return err
		}
	}
	f.pending = append(f.pending[:0], f.pending[n:]...)
	return nil
}

// Reset drops any carried samples.
func (f *Framer) Reset() { f.pending = f.pending[:0] }
