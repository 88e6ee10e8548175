package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wakeword/pkg/audio"
)

var _ Source = (*File)(nil)

// File plays back a recording. WAV files of any PCM16 rate and channel count
// are converted to mono 16 kHz; anything else is read as raw s16le mono
// 16 kHz. The path "-" reads standard input.
type File struct {
	path     string
	realtime bool
	stdin    io.Reader

	mu     sync.Mutex
	r      io.Reader
	closer io.Closer
	start  time.Time
	read   int64

	running atomic.Bool
	stopped chan struct{}
	once    sync.Once
}

// FileOption configures a File.
type FileOption func(*File)

// WithRealtime paces reads to the audio clock, so a recording behaves like a
// live microphone.
func WithRealtime(enabled bool) FileOption {
	return func(f *File) { f.realtime = enabled }
}

// withStdin replaces os.Stdin for "-" in tests.
func withStdin(r io.Reader) FileOption {
	return func(f *File) { f.stdin = r }
}

// NewFile returns a File source for path.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path, stdin: os.Stdin, stopped: make(chan struct{})}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Name returns "file:" and the path.
func (f *File) Name() string { return "file:" + f.path }

// Start opens the file and parses a WAV header if there is one.
func (f *File) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.stopped:
		return ErrStopped
	default:
	}
	if f.r != nil {
		return ErrAlreadyStarted
	}

	var in io.Reader
	if f.path == "-" {
		in = f.stdin
	} else {
		fh, err := os.Open(f.path)
		if err != nil {
			return fmt.Errorf("source: open %s: %w", f.path, err)
		}
		in, f.closer = fh, fh
	}

	br := bufio.NewReader(in)
	head, _ := br.Peek(12)
	if len(head) == 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE" {
		r, err := wavReader(br)
		if err != nil {
			f.closeLocked()
			return fmt.Errorf("source: %s: %w", f.path, err)
		}
		f.r = r
	} else {
		f.r = br
	}

	f.start = time.Now()
	f.running.Store(true)
	return nil
}

// wavReader parses the header and returns a reader of mono 16 kHz PCM.
// Recordings in another format are converted in memory.
func wavReader(r io.Reader) (io.Reader, error) {
	format, err := audio.ReadWAVHeader(r)
	if err != nil {
		return nil, err
	}
	if format == audio.Mono16k {
		return r, nil
	}
	pcm, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read wav data: %w", err)
	}
	if len(pcm)%(audio.BytesPerSample*format.Channels) != 0 {
		pcm = pcm[:len(pcm)-len(pcm)%(audio.BytesPerSample*format.Channels)]
	}
	converted, err := audio.ToMono16k(pcm, format)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(converted), nil
}

// Read returns the next PCM bytes and io.EOF at the end of the recording.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	r, start := f.r, f.start
	f.mu.Unlock()
	if r == nil {
		return 0, ErrNotStarted
	}
	select {
	case <-f.stopped:
		return 0, io.EOF
	default:
	}

	n, err := r.Read(b)
	if n > 0 && f.realtime {
		f.mu.Lock()
		f.read += int64(n)
		due := start.Add(time.Duration(f.read/audio.BytesPerSample) * time.Second / SampleRate)
		f.mu.Unlock()
		select {
		case <-time.After(time.Until(due)):
		case <-f.stopped:
		}
	}
	return n, err
}

// Running reports whether the file is open. It stays true at the end of the
// recording: running out of data ends the stream, not the source.
func (f *File) Running() bool { return f.running.Load() }

// Stop closes the file. Safe to call repeatedly.
func (f *File) Stop() error {
	var err error
	f.once.Do(func() {
		close(f.stopped)
		f.running.Store(false)
		f.mu.Lock()
		defer f.mu.Unlock()
		err = f.closeLocked()
	})
	return err
}

func (f *File) closeLocked() error {
	if f.closer == nil {
		return nil
	}
	c := f.closer
	f.closer = nil
	return c.Close()
}
