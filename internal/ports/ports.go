package ports

import (
	"context"
	"time"

	"voxstream/internal/domain"
)

// ChunkSource yields audio chunks until io.EOF.
type ChunkSource interface {
	// Next returns the next chunk, io.EOF at end of source, or a source error.
	Next(ctx context.Context) (domain.AudioChunk, error)
	// Live reports whether the source is already paced by real time.
	Live() bool
	Close() error
}

// SourceOpener creates the chunk source once the transport is connected.
type SourceOpener interface {
	Open(ctx context.Context) (ChunkSource, error)
	Describe() string
}

// Pacer holds chunks back so audio is not sent faster than real time.
type Pacer interface {
	Forward(ctx context.Context, chunk domain.AudioChunk, send func([]byte) error) error
}

// Transport is an open recognition connection.
type Transport interface {
	SendBinary(data []byte) error
	SendControl(message any) error
	// Events delivers decoded inbound events in arrival order and is closed
	// when the connection ends.
	Events() <-chan domain.TranscriptEvent
	// Done is closed exactly once, after the connection has fully ended.
	Done() <-chan struct{}
	// Err returns the transport error that ended the connection, if any.
	Err() error
	CloseStatus() (code int, reason string)
	// Close starts a graceful close and waits up to grace for the peer.
	Close(code int, reason string, grace time.Duration) error
	Stats() domain.StreamStats
}

// TransportDialer connects to a stream endpoint.
type TransportDialer interface {
	Dial(ctx context.Context, endpoint domain.StreamEndpoint) (Transport, error)
}

// EndpointResolver turns credentials into a connection-ready endpoint.
type EndpointResolver interface {
	Resolve(ctx context.Context) (domain.StreamEndpoint, error)
}

// Renderer receives display instructions and session notices.
type Renderer interface {
	Render(instruction domain.RenderInstruction)
	SessionStateChanged(state domain.SessionState)
	FirstWord(latency time.Duration)
	Finished(elapsed time.Duration)
	SessionError(code domain.ErrorCode, detail string)
}
