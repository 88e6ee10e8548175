package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const bitsPerSample = 16

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// EncodeWAVSamples encodes normalised mono samples as a WAV file at
// sampleRate.
func EncodeWAVSamples(samples []float32, sampleRate int) []byte {
	return EncodeWAV(Float32ToPCM(samples), Format{SampleRate: sampleRate, Channels: 1})
}

// ErrNotWAV is returned by [ReadWAVHeader] when the stream does not start
// with a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// ReadWAVHeader consumes RIFF chunks from r up to and including the "data"
// chunk header, leaving r positioned at the first PCM byte. Only 16-bit PCM
// is accepted.
func ReadWAVHeader(r io.Reader) (Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var f Format
	foundFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, fmt.Errorf("audio: WAV missing data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, fmt.Errorf("audio: WAV fmt chunk too short (%d bytes)", size)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return Format{}, fmt.Errorf("audio: read WAV fmt chunk: %w", err)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return Format{}, fmt.Errorf("audio: unsupported WAV encoding %d (only PCM)", tag)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != bitsPerSample {
				return Format{}, fmt.Errorf("audio: unsupported WAV bit depth %d (only 16)", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			foundFmt = true
			if err := skip(r, size-16+size%2); err != nil {
				return Format{}, err
			}
		case "data":
			if !foundFmt {
				return Format{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			return f, nil
		default:
			// Chunks are word-aligned.
			if err := skip(r, size+size%2); err != nil {
				return Format{}, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("audio: skip WAV chunk: %w", err)
	}
	return nil
}
