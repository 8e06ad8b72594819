package domain

import "errors"

var (
	// ErrSource marks failures of the audio source (unreadable file, device error).
	ErrSource = errors.New("audio source failure")
	// ErrConnect marks failures to establish the recognition connection.
	ErrConnect = errors.New("connect failure")
	// ErrTransport marks mid-session connection failures.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedEvent marks inbound payloads that do not decode as events.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrSessionStarted is returned when Run is called twice on one controller.
	ErrSessionStarted = errors.New("session already started")
)
