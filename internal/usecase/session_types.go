package usecase

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxstream/internal/ports"
)

const pumpStopSlack = 5 * time.Second

type activeSession struct {
	transport  ports.Transport
	source     ports.ChunkSource
	reconciler *ResultReconciler

	endOfStream any
	eofSent     bool

	stopPump    func()
	pumpRunning bool
	pumpDone    chan pumpResult
	eventsDone  chan struct{}
	audio       time.Duration

	releaseOnce sync.Once
}

func newActiveSession(transport ports.Transport, endOfStream any) *activeSession {
	if endOfStream == nil {
		endOfStream = defaultEndOfStream
	}
	return &activeSession{
		transport:   transport,
		endOfStream: endOfStream,
		stopPump:    func() {},
		pumpDone:    make(chan pumpResult, 1),
		eventsDone:  make(chan struct{}),
	}
}

// sendEndOfStream sends the end-of-stream control frame at most once.
func (a *activeSession) sendEndOfStream() error {
	if a.eofSent {
		return nil
	}
	a.eofSent = true
	return a.transport.SendControl(a.endOfStream)
}

func (a *activeSession) releaseSource(log zerolog.Logger) {
	a.releaseOnce.Do(func() {
		if a.source == nil {
			return
		}
		if err := a.source.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release audio source")
		}
	})
}
