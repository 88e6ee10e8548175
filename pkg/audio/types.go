package audio

import "time"

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the wire format every capture source must deliver.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// Chunk is a fixed-size run of normalised samples cut from the ring buffer.
// Chunks are handed to the voice activity and keyword stages and are never
// mutated after extraction.
type Chunk struct {
	// Samples holds values in [-1.0, 1.0).
	Samples []float32

	// Start is the absolute index of Samples[0] in the captured stream.
	Start int64
}

// Len returns the number of samples in the chunk.
func (c Chunk) Len() int { return len(c.Samples) }

// Offset returns the stream position of the chunk's first sample.
func (c Chunk) Offset(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Start) * time.Second / time.Duration(sampleRate)
}

// SamplesPerDuration returns how many samples span d at sampleRate.
func SamplesPerDuration(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}
