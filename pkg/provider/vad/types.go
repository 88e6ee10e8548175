package vad

import "fmt"

// OpenEnd marks a segment whose end has not been observed yet. A segment
// with EndMs == OpenEnd is a speech start marker.
const OpenEnd int64 = -1

// Segment is one speech boundary marker, with offsets in milliseconds from
// the start of the stream.
type Segment struct {
	StartMs int64
	EndMs   int64
}

// IsStart reports whether s marks the beginning of speech. Any other segment
// marks its end.
func (s Segment) IsStart() bool { return s.EndMs == OpenEnd }

// BoundaryMs returns the offset of the boundary the marker describes.
func (s Segment) BoundaryMs() int64 {
	if s.IsStart() {
		return s.StartMs
	}
	return s.EndMs
}

func (s Segment) String() string {
	if s.IsStart() {
		return fmt.Sprintf("[%d, open)", s.StartMs)
	}
	return fmt.Sprintf("[%d, %d]", s.StartMs, s.EndMs)
}

// Start returns a start marker at ms.
func Start(ms int64) Segment { return Segment{StartMs: ms, EndMs: OpenEnd} }

// End returns an end marker for a segment spanning [startMs, endMs].
func End(startMs, endMs int64) Segment { return Segment{StartMs: startMs, EndMs: endMs} }
