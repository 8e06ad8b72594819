package domain

import (
	"net/http"
	"time"
)

// SessionState models the streaming session lifecycle.
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateStreaming  SessionState = "streaming"
	SessionStateDraining   SessionState = "draining"
	SessionStateClosing    SessionState = "closing"
	SessionStateClosed     SessionState = "closed"
	SessionStateFailed     SessionState = "failed"
)

// Close codes used when ending the recognition connection.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// ErrorCode identifies which part of the session produced an error.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeConnect   ErrorCode = "connect"
	ErrorCodeSource    ErrorCode = "source"
	ErrorCodeTransport ErrorCode = "transport"
)

// AudioChunk is one window of PCM audio and the playback time it represents.
type AudioChunk struct {
	Data     []byte
	Duration time.Duration
}

// StreamEndpoint is a connection-ready description of the recognition socket.
type StreamEndpoint struct {
	URL        string
	Language   string
	SampleRate int
	Engine     string
	Header     http.Header

	// InitialControl, when set, is sent as a control frame before any audio.
	InitialControl any
	// EndOfStream is the control frame announcing that no more audio follows.
	EndOfStream any
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from the server.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`

	// Segment holds the compact JSON form of the server's segment token so
	// that 1 and "1" stay distinct. Empty means the token was absent or null.
	Segment string `json:"segment,omitempty"`
}

// HasSegment reports whether the event carried a segment token.
func (e TranscriptEvent) HasSegment() bool {
	return e.Segment != ""
}

// RenderOp tells the display layer what to do with a line of text.
type RenderOp string

const (
	RenderNoOp      RenderOp = "noop"
	RenderOverwrite RenderOp = "overwrite"
	RenderCommit    RenderOp = "commit"
)

// RenderInstruction is produced by the reconciler for every inbound event.
type RenderInstruction struct {
	Op   RenderOp
	Text string
}

var NoOp = RenderInstruction{Op: RenderNoOp}

func OverwriteCurrentLine(text string) RenderInstruction {
	return RenderInstruction{Op: RenderOverwrite, Text: text}
}

func CommitLine(text string) RenderInstruction {
	return RenderInstruction{Op: RenderCommit, Text: text}
}

// StreamStats counts traffic for a single session.
type StreamStats struct {
	SentChunks      int
	SentBytes       uint64
	AudioDuration   time.Duration
	RecvEvents      int
	MalformedEvents int
}

// SessionReport summarizes a finished session.
type SessionReport struct {
	ID          string
	FinalState  SessionState
	Transcript  []string
	FirstWord   time.Duration
	HasFirst    bool
	Duration    time.Duration
	Stats       StreamStats
	CloseCode   int
	CloseReason string
	Transitions []SessionState
}
