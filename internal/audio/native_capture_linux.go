//go:build linux

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
)

const (
	nativeBackend  = "pulse"
	nativeMonoOnly = true

	streamPollInterval = 100 * time.Millisecond
)

func startNativeCapture(cfg MicConfig, format Format, onData func([]byte), onError func(error)) (func() error, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		onData(data)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordLatency(float64(cfg.ChunkMs) / 1000),
	}
	if cfg.InputDevice != "" && cfg.InputDevice != "default" {
		source, err := client.SourceByID(cfg.InputDevice)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse record: %w", err)
	}
	stream.Start()

	// pulse reports a lost server or device only through the stream state
	var stopping atomic.Bool
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !stream.Closed() || stopping.Load() {
					continue
				}
				err := stream.Error()
				if err == nil {
					err = errors.New("pulse record stream closed")
				}
				onError(err)
				return
			}
		}
	}()

	return func() error {
		stopping.Store(true)
		close(done)
		stream.Stop()
		stream.Close()
		client.Close()
		return nil
	}, nil
}
