//go:build !linux

package audio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const (
	nativeBackend  = "miniaudio"
	nativeMonoOnly = false
)

func startNativeCapture(_ MicConfig, format Format, onData func([]byte), onError func(error)) (func() error, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	var stopping atomic.Bool
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			onData(data)
		},
		Stop: func() {
			if !stopping.Load() {
				onError(errors.New("capture device stopped"))
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgo device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgo start: %w", err)
	}

	return func() error {
		stopping.Store(true)
		err := device.Stop()
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return err
	}, nil
}
