package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

type pumpResult struct {
	err    error
	chunks int
	audio  time.Duration
}

// pumpAudioChunks pulls chunks from the source, through the pacer, onto the
// transport in production order. A nil result error means end of source.
func pumpAudioChunks(
	ctx context.Context,
	source ports.ChunkSource,
	pacer ports.Pacer,
	transport ports.Transport,
	done chan<- pumpResult,
) {
	var result pumpResult
	defer func() { done <- result }()

	for {
		chunk, err := source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case ctx.Err() != nil:
				result.err = ctx.Err()
			case errors.Is(err, domain.ErrSource):
				result.err = err
			default:
				result.err = fmt.Errorf("%w: %w", domain.ErrSource, err)
			}
			return
		}

		if err := pacer.Forward(ctx, chunk, transport.SendBinary); err != nil {
			switch {
			case ctx.Err() != nil:
				result.err = ctx.Err()
			case errors.Is(err, domain.ErrTransport):
				result.err = err
			default:
				result.err = fmt.Errorf("%w: failed to stream audio: %w", domain.ErrTransport, err)
			}
			return
		}
		result.chunks++
		result.audio += chunk.Duration
	}
}

func waitForPump(done <-chan pumpResult, timeout time.Duration) (pumpResult, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res, true
	case <-timer.C:
		return pumpResult{}, false
	}
}
