package audio

import (
	"context"
	"fmt"

	"voxstream/internal/ports"
)

// NativeOpener captures the microphone through the platform audio stack:
// PulseAudio on linux, miniaudio elsewhere.
type NativeOpener struct {
	cfg   MicConfig
	start captureStarter
}

// captureStarter begins device capture, delivering buffers to onData and a
// device failure to onError. The returned func stops capture.
type captureStarter func(cfg MicConfig, format Format, onData func([]byte), onError func(error)) (func() error, error)

func NewNativeOpener(cfg MicConfig) *NativeOpener {
	return &NativeOpener{cfg: cfg.withDefaults(), start: startNativeCapture}
}

func (o *NativeOpener) Describe() string {
	return fmt.Sprintf("microphone (%s %s)", nativeBackend, o.cfg.InputDevice)
}

func (o *NativeOpener) Open(ctx context.Context) (ports.ChunkSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := Format{SampleRate: o.cfg.SampleRate, Channels: o.cfg.Channels}
	if nativeMonoOnly {
		format.Channels = 1
	}
	source := newLiveSource(format)

	stop, err := o.start(o.cfg, format, func(data []byte) {
		source.push(data)
	}, func(err error) {
		select {
		case <-source.done:
			return
		default:
		}
		source.finish(fmt.Errorf("%s capture: %w", nativeBackend, err))
	})
	if err != nil {
		return nil, fmt.Errorf("%s capture: %w", nativeBackend, err)
	}
	source.stop = func() error {
		err := stop()
		source.finish(nil)
		return err
	}
	return source, nil
}

// NewMicOpener picks the capture backend by name ("native" or "ffmpeg").
func NewMicOpener(backend, ffmpegCommand string, cfg MicConfig) ports.SourceOpener {
	if backend == "ffmpeg" {
		return NewFFMPEGOpener(ffmpegCommand, cfg)
	}
	return NewNativeOpener(cfg)
}
