package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

// liveSource adapts a capture device that produces data on its own schedule.
// Chunk boundaries follow the device's buffering; durations are advisory.
type liveSource struct {
	format Format
	chunks chan []byte
	ended  chan struct{}
	done   chan struct{}

	stop func() error

	errMu sync.Mutex
	err   error

	finishOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

var _ ports.ChunkSource = (*liveSource)(nil)

func newLiveSource(format Format) *liveSource {
	return &liveSource{
		format: format.normalized(),
		chunks: make(chan []byte, 64),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// push hands one buffer to the consumer, blocking until it is taken or the
// source has ended or been closed.
func (s *liveSource) push(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	select {
	case <-s.ended:
		return false
	case <-s.done:
		return false
	default:
	}
	copied := append([]byte(nil), data...)
	select {
	case s.chunks <- copied:
		return true
	case <-s.ended:
		return false
	case <-s.done:
		return false
	}
}

// finish ends the sequence; a nil err means a clean end of capture.
// Buffers already handed over are still delivered before the end.
func (s *liveSource) finish(err error) {
	s.finishOnce.Do(func() {
		if err != nil && !errors.Is(err, io.EOF) {
			s.errMu.Lock()
			s.err = fmt.Errorf("%w: %w", domain.ErrSource, err)
			s.errMu.Unlock()
		}
		close(s.ended)
	})
}

func (s *liveSource) Live() bool { return true }

func (s *liveSource) Next(ctx context.Context) (domain.AudioChunk, error) {
	select {
	case <-ctx.Done():
		return domain.AudioChunk{}, ctx.Err()
	case data := <-s.chunks:
		return s.format.chunk(data), nil
	case <-s.ended:
		select {
		case data := <-s.chunks:
			return s.format.chunk(data), nil
		default:
		}
		s.errMu.Lock()
		defer s.errMu.Unlock()
		if s.err != nil {
			return domain.AudioChunk{}, s.err
		}
		return domain.AudioChunk{}, io.EOF
	}
}

func (s *liveSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.closeErr = s.stop()
		}
	})
	return s.closeErr
}
