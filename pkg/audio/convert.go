package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrEndOfStream is returned by the converters when a capture block signals
// the end of the stream: either no bytes at all or a trailing odd byte that
// cannot form a whole sample.
var ErrEndOfStream = errors.New("audio: end of stream")

// pcmScale maps the int16 range onto [-1.0, 1.0).
const pcmScale = 32768.0

// PCMToFloat32 converts signed 16-bit little-endian PCM to normalised samples
// (raw / 32768). It is pure and deterministic. An empty or misaligned block
// yields [ErrEndOfStream].
func PCMToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm) == 0 || len(pcm)%BytesPerSample != 0 {
		return nil, ErrEndOfStream
	}
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		raw := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(raw) / pcmScale
	}
	return out, nil
}

// Float32ToPCM is the inverse of [PCMToFloat32]. Values outside [-1, 1) are
// clamped to the int16 range.
func Float32ToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(s) * pcmScale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// AppendInt16 appends samples to dst as signed 16-bit little-endian PCM.
func AppendInt16(dst []byte, samples []int16) []byte {
	for _, v := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

// FrameConverter turns raw capture blocks into samples for one stream. It
// logs a warning the first time a misaligned block ends the stream.
// Create one per stream; not designed for shared use across goroutines.
type FrameConverter struct {
	Logger        *slog.Logger
	warnedCorrupt sync.Once
}

// Convert converts one capture block. See [PCMToFloat32].
func (c *FrameConverter) Convert(block []byte) ([]float32, error) {
	samples, err := PCMToFloat32(block)
	if err != nil && len(block) > 0 {
		c.warnedCorrupt.Do(func() {
			log := c.Logger
			if log == nil {
				log = slog.Default()
			}
			log.Warn("audio converter: odd byte count in PCM block, treating as end of stream",
				"bytes", len(block),
			)
		})
	}
	return samples, err
}

// ToMono16k normalises interleaved 16-bit PCM in format from to 16 kHz mono.
// Resampling runs first so that multi-channel audio is downmixed once at the
// lower rate when downsampling.
func ToMono16k(pcm []byte, from Format) ([]byte, error) {
	if from.SampleRate <= 0 || from.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid source format %s", formatString(from.SampleRate, from.Channels))
	}
	if from == Mono16k {
		return pcm, nil
	}
	slog.Debug("audio format mismatch: converting",
		"from", formatString(from.SampleRate, from.Channels),
		"to", formatString(Mono16k.SampleRate, Mono16k.Channels),
	)

	switch from.Channels {
	case 1:
		return ResampleMono16(pcm, from.SampleRate, Mono16k.SampleRate), nil
	case 2:
		return StereoToMono(ResampleStereo16(pcm, from.SampleRate, Mono16k.SampleRate)), nil
	default:
		return ResampleMono16(Downmix(pcm, from.Channels), from.SampleRate, Mono16k.SampleRate), nil
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return Downmix(pcm, 2)
}

// Downmix averages every interleaved frame of channels 16-bit samples into
// one mono sample. Uses int32 arithmetic and clamps to the int16 range.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * BytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		avg := sum / int32(channels)
		if avg > math.MaxInt16 {
			avg = math.MaxInt16
		} else if avg < math.MinInt16 {
			avg = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sampleAt := func(idx int) int16 {
		return int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
	}

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(srcIdx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation on each channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)
	sampleAt := func(frame, ch int) int16 {
		return int16(binary.LittleEndian.Uint16(pcm[frame*4+ch*2:]))
	}

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx
		if srcIdx+1 < srcFrames {
			next = srcIdx + 1
		}
		for ch := range 2 {
			s0, s1 := sampleAt(srcIdx, ch), sampleAt(next, ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			binary.LittleEndian.PutUint16(out[i*4+ch*2:], uint16(v))
		}
	}
	return out
}

// RMS returns the root-mean-square energy of normalised samples, in the
// same [0, 1] scale as the samples themselves.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// formatString returns a human-readable string such as "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
