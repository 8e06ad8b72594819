package voxist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

var errTransportClosed = errors.New("transport is closed")

const writeTimeout = 10 * time.Second

// Dialer opens recognition sockets.
type Dialer struct {
	logger zerolog.Logger
	ws     *websocket.Dialer
}

func NewDialer(logger zerolog.Logger) *Dialer {
	ws := *websocket.DefaultDialer
	return &Dialer{logger: logger, ws: &ws}
}

func (d *Dialer) Dial(ctx context.Context, endpoint domain.StreamEndpoint) (ports.Transport, error) {
	if endpoint.URL == "" {
		return nil, fmt.Errorf("%w: endpoint url is empty", domain.ErrConnect)
	}

	conn, resp, err := d.ws.DialContext(ctx, endpoint.URL, endpoint.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket handshake returned %s: %w", domain.ErrConnect, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: failed to connect to recognition websocket: %w", domain.ErrConnect, err)
	}

	return newTransport(conn, d.logger), nil
}

type outboundFrame struct {
	messageType int
	payload     []byte
	result      chan error
}

type transport struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events   chan domain.TranscriptEvent
	outbound chan outboundFrame
	stop     chan struct{}
	abandon  chan struct{}
	readDone chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	errMu       sync.Mutex
	err         error
	closeCode   int
	closeReason string
	closing     bool

	statsMu sync.Mutex
	stats   domain.StreamStats

	stopOnce    sync.Once
	abandonOnce sync.Once
	closeOnce   sync.Once
}

func newTransport(conn *websocket.Conn, logger zerolog.Logger) *transport {
	t := &transport{
		conn:     conn,
		logger:   logger,
		events:   make(chan domain.TranscriptEvent, 64),
		outbound: make(chan outboundFrame),
		stop:     make(chan struct{}),
		abandon:  make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()
	go func() {
		t.wg.Wait()
		close(t.events)
		_ = conn.Close()
		close(t.done)
	}()
	return t
}

// SendBinary writes one audio frame and returns once it is on the wire.
func (t *transport) SendBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := t.enqueue(websocket.BinaryMessage, data); err != nil {
		return err
	}
	t.statsMu.Lock()
	t.stats.SentChunks++
	t.stats.SentBytes += uint64(len(data))
	t.statsMu.Unlock()
	return nil
}

// SendControl writes a JSON control message as a text frame.
func (t *transport) SendControl(message any) error {
	payload, err := encodeControl(message)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	return t.enqueue(websocket.TextMessage, payload)
}

func (t *transport) enqueue(messageType int, payload []byte) error {
	frame := outboundFrame{messageType: messageType, payload: payload, result: make(chan error, 1)}
	select {
	case t.outbound <- frame:
	case <-t.stop:
		return t.closedErr()
	}
	select {
	case err := <-frame.result:
		return err
	case <-t.done:
		return t.closedErr()
	}
}

func (t *transport) closedErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return errTransportClosed
}

func (t *transport) Events() <-chan domain.TranscriptEvent { return t.events }

func (t *transport) Done() <-chan struct{} { return t.done }

func (t *transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *transport) CloseStatus() (int, string) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.closeCode, t.closeReason
}

func (t *transport) Stats() domain.StreamStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

// Close sends a close frame and waits up to grace for the peer to answer,
// then tears the socket down. It blocks until the close notification fires.
func (t *transport) Close(code int, reason string, grace time.Duration) error {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.closing = true
		if t.closeCode == 0 {
			t.closeCode = code
			t.closeReason = reason
		}
		t.errMu.Unlock()
		t.stopWriter()

		if grace <= 0 {
			grace = time.Second
		}
		deadline := time.Now().Add(grace)
		if err := t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
			t.logger.Debug().Err(err).Msg("close frame not sent")
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-t.readDone:
		case <-timer.C:
			t.logger.Warn().Dur("grace", grace).Msg("peer did not acknowledge close, forcing teardown")
			t.abandonOnce.Do(func() { close(t.abandon) })
			_ = t.conn.Close()
		}
	})
	<-t.done
	return t.Err()
}

func (t *transport) stopWriter() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *transport) setErr(err error) {
	if err == nil {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		t.errMu.Lock()
		if !t.closing || t.closeCode == 0 {
			t.closeCode = closeErr.Code
			t.closeReason = closeErr.Text
		}
		t.errMu.Unlock()
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.closing && errors.Is(err, net.ErrClosed) {
		return
	}
	if t.err == nil {
		t.err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
		t.logger.Error().Err(err).Msg("transport error")
	}
}

func (t *transport) writeLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stop:
			return
		case frame := <-t.outbound:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := t.conn.WriteMessage(frame.messageType, frame.payload)
			if err != nil {
				err = fmt.Errorf("failed to write frame: %w", err)
				t.setErr(err)
			}
			frame.result <- err
			if err != nil {
				t.stopWriter()
				return
			}
		}
	}
}

func (t *transport) readLoop() {
	defer t.wg.Done()
	defer close(t.readDone)
	defer t.stopWriter()

	for {
		messageType, payload, err := t.conn.ReadMessage()
		if err != nil {
			t.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			t.logger.Debug().Int("bytes", len(payload)).Msg("ignoring binary frame from server")
			continue
		}

		event, ok, err := decodeEvent(payload)
		if err != nil {
			t.statsMu.Lock()
			t.stats.MalformedEvents++
			t.statsMu.Unlock()
			t.logger.Warn().Err(err).Str("payload", truncate(string(payload), 256)).Msg("dropping malformed event")
			continue
		}
		if !ok {
			continue
		}

		t.statsMu.Lock()
		t.stats.RecvEvents++
		t.statsMu.Unlock()

		select {
		case t.events <- event:
		case <-t.abandon:
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
