package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"voxstream/internal/ports"
)

// MicConfig describes how the microphone should be captured.
type MicConfig struct {
	SampleRate  int
	Channels    int
	ChunkMs     int
	InputFormat string
	InputDevice string
}

func (c MicConfig) withDefaults() MicConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.ChunkMs <= 0 {
		c.ChunkMs = DefaultChunkMs
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	return c
}

// FFMPEGOpener streams microphone PCM audio using an ffmpeg subprocess.
type FFMPEGOpener struct {
	command string
	cfg     MicConfig
}

func NewFFMPEGOpener(command string, cfg MicConfig) *FFMPEGOpener {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGOpener{command: command, cfg: cfg.withDefaults()}
}

func (o *FFMPEGOpener) Describe() string {
	return fmt.Sprintf("microphone (ffmpeg %s:%s)", o.cfg.InputFormat, o.cfg.InputDevice)
}

func (o *FFMPEGOpener) Open(ctx context.Context) (ports.ChunkSource, error) {
	cfg := o.cfg
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// the process outlives Open; Close stops it
	cmd := exec.Command(o.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// An explicit pipe keeps the read end ours, so Wait can run while the
	// reader drains it.
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutWriter
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutWriter.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	_ = stdoutWriter.Close()

	proc := &ffmpegProcess{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		exited:  make(chan struct{}),
	}
	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)
	}()

	select {
	case <-proc.exited:
		_ = stdout.Close()
		if proc.exitErr != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", proc.exitErr, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-proc.exited
		_ = stdout.Close()
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	format := Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	source := newLiveSource(format)
	source.stop = proc.stop

	go readPipe(source, stdout, format.ChunkBytesFor(cfg.ChunkMs), proc.captureErr)
	return source, nil
}

// readPipe forwards whatever each Read returns; the device decides boundaries.
// When the pipe ends, ended reports why the producer went away.
func readPipe(source *liveSource, r io.Reader, size int, ended func() error) {
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 && !source.push(buf[:n]) {
			source.finish(nil)
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				err = ended()
			}
			source.finish(err)
			return
		}
	}
}

type ffmpegProcess struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process  *os.Process
	exited   chan struct{}
	exitErr  error
	stopping atomic.Bool
}

// captureErr is the error that ended capture on its own. A stop requested
// through Close and a zero exit status are both clean ends.
func (p *ffmpegProcess) captureErr() error {
	if p.stopping.Load() {
		return nil
	}
	<-p.exited
	if p.stopping.Load() || p.exitErr == nil {
		return nil
	}
	return fmt.Errorf("ffmpeg exited during capture: %w: %s", p.exitErr, stringsTrimSpaceSafe(p.stderr.String()))
}

func (p *ffmpegProcess) stop() error {
	p.stopping.Store(true)
	var stopErr error
	if p.process != nil {
		_ = p.process.Signal(os.Interrupt)
	}

	select {
	case <-p.exited:
	case <-time.After(1200 * time.Millisecond):
		if p.process != nil {
			_ = p.process.Kill()
		}
		<-p.exited
	}
	stopErr = normalizeStopErr(p.exitErr)

	if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		if stopErr == nil {
			stopErr = closeErr
		}
	}

	if stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, stringsTrimSpaceSafe(p.stderr.String()))
	}
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
