package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFFmpegArgs capture the default PulseAudio input as mono 16 kHz s16le
// on stdout.
var DefaultFFmpegArgs = []string{
	"-loglevel", "0",
	"-ar", "16000",
	"-ac", "1",
	"-f", "pulse",
	"-i", "default",
	"-fflags", "nobuffer",
	"-flags", "low_delay",
	"-f", "s16le",
	"-",
}

// stderrTailSize bounds how much of the child's stderr is kept for error
// reports.
const stderrTailSize = 2048

// killGrace is how long Stop waits after an interrupt before killing.
const killGrace = 500 * time.Millisecond

var _ Source = (*Process)(nil)

// Process runs an external command and reads PCM from its stdout. The
// default command is ffmpeg recording from PulseAudio.
type Process struct {
	path   string
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *os.File
	stderr *tailBuffer
	exited chan struct{}
	err    error // exit status, set before exited is closed

	running atomic.Bool
	stopped atomic.Bool
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithArgs replaces the command arguments.
func WithArgs(args ...string) ProcessOption {
	return func(p *Process) { p.args = args }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ProcessOption {
	return func(p *Process) { p.logger = l }
}

// NewProcess returns a Process that runs path. An empty path selects ffmpeg
// with [DefaultFFmpegArgs].
func NewProcess(path string, opts ...ProcessOption) *Process {
	p := &Process{path: path, logger: slog.Default()}
	if path == "" {
		p.path = "ffmpeg"
		p.args = DefaultFFmpegArgs
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the command name.
func (p *Process) Name() string { return "process:" + p.path }

// Start launches the command. A launch failure (missing binary, permission)
// is returned; the process is not retried.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return ErrStopped
	}
	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	// A plain os.Pipe instead of StdoutPipe: cmd.Wait must not close the
	// read end while the pipeline is still draining it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("source: create pipe: %w", err)
	}

	cmd := exec.Command(p.path, p.args...)
	cmd.Stdout = pw
	p.stderr = &tailBuffer{max: stderrTailSize}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("source: start %s: %w", p.path, err)
	}
	pw.Close()

	p.cmd = cmd
	p.stdout = pr
	p.exited = make(chan struct{})
	p.running.Store(true)
	p.logger.Debug("audio source started", "cmd", p.path, "args", strings.Join(p.args, " "), "pid", cmd.Process.Pid)

	go p.wait()
	return nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	if err != nil && !p.stopped.Load() {
		if tail := p.stderr.String(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		p.logger.Warn("audio source exited", "cmd", p.path, "err", err)
	}
	p.err = err
	close(p.exited)
	p.running.Store(false)
}

// Read reads PCM from the command's stdout. It returns io.EOF once the
// command has exited and its output is drained.
func (p *Process) Read(b []byte) (int, error) {
	p.mu.Lock()
	r := p.stdout
	p.mu.Unlock()
	if r == nil {
		return 0, ErrNotStarted
	}
	return r.Read(b)
}

// Running reports whether the command is still alive.
func (p *Process) Running() bool { return p.running.Load() }

// Err returns the command's exit error once it has exited, nil before.
func (p *Process) Err() error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return nil
	}
	select {
	case <-exited:
		return p.err
	default:
		return nil
	}
}

// Stop interrupts the command, kills it if it does not exit promptly, and
// closes the read end of the pipe. Safe to call repeatedly and before Start.
func (p *Process) Stop() error {
	if p.stopped.Swap(true) {
		return nil
	}
	p.mu.Lock()
	cmd, exited, stdout := p.cmd, p.exited, p.stdout
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}

	var errs []error
	if p.running.Load() {
		if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("source: interrupt: %w", err))
		}
		select {
		case <-exited:
		case <-time.After(killGrace):
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("source: kill: %w", err))
			}
			<-exited
		}
	}
	if err := stdout.Close(); err != nil {
		errs = append(errs, fmt.Errorf("source: close pipe: %w", err))
	}
	return errors.Join(errs...)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
