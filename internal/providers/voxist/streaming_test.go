package voxist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
)

type recordedFrame struct {
	messageType int
	payload     []byte
}

// fakeServer is a recognition socket that records inbound frames and runs a
// script once the client sends the end-of-stream control message.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	frames []recordedFrame

	onConnect func(conn *websocket.Conn)
	onEOF     func(conn *websocket.Conn)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t}
	upgrader := websocket.Upgrader{}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if fs.onConnect != nil {
			fs.onConnect(conn)
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, recordedFrame{messageType: messageType, payload: payload})
			fs.mu.Unlock()
			if messageType == websocket.TextMessage && strings.Contains(string(payload), `"eof"`) && fs.onEOF != nil {
				fs.onEOF(conn)
			}
		}
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func (fs *fakeServer) snapshot() []recordedFrame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]recordedFrame, len(fs.frames))
	copy(out, fs.frames)
	return out
}

func dialFake(t *testing.T, fs *fakeServer) *transport {
	t.Helper()
	tr, err := NewDialer(zerolog.Nop()).Dial(context.Background(), domain.StreamEndpoint{URL: fs.url()})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return tr.(*transport)
}

func TestTransportPreservesSendOrder(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t)
	fs.onEOF = func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}
	tr := dialFake(t, fs)

	for _, chunk := range []string{"one", "two", "three"} {
		if err := tr.SendBinary([]byte(chunk)); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	if err := tr.SendControl(EOFMessage); err != nil {
		t.Fatalf("send eof failed: %v", err)
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("transport did not close after server close")
	}
	if err := tr.Err(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}

	frames := fs.snapshot()
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	for i, want := range []string{"one", "two", "three"} {
		if frames[i].messageType != websocket.BinaryMessage || string(frames[i].payload) != want {
			t.Fatalf("frame %d: unexpected %d %q", i, frames[i].messageType, frames[i].payload)
		}
	}
	if frames[3].messageType != websocket.TextMessage || string(frames[3].payload) != `{"eof":1}` {
		t.Fatalf("unexpected eof frame: %q", frames[3].payload)
	}

	code, reason := tr.CloseStatus()
	if code != websocket.CloseNormalClosure || reason != "done" {
		t.Fatalf("unexpected close status %d %q", code, reason)
	}
	stats := tr.Stats()
	if stats.SentChunks != 3 || stats.SentBytes != 11 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTransportDeliversEventsInOrderAndDropsMalformed(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t)
	fs.onConnect = func(conn *websocket.Conn) {
		for _, msg := range []string{
			`{"type":"partial","text":"bon"}`,
			`not json`,
			`{"type":"partial","text":"bonjour"}`,
			`{"type":"status","state":"ready"}`,
			`{"type":"final","text":"bonjour","segment":1}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	tr := dialFake(t, fs)

	var got []domain.TranscriptEvent
	for event := range tr.Events() {
		got = append(got, event)
	}
	<-tr.Done()

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Text != "bon" || got[1].Text != "bonjour" || got[2].Kind != domain.TranscriptKindFinal {
		t.Fatalf("unexpected events: %+v", got)
	}
	if got[2].Segment != "1" {
		t.Fatalf("unexpected segment token: %q", got[2].Segment)
	}
	if stats := tr.Stats(); stats.MalformedEvents != 1 || stats.RecvEvents != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTransportCloseIsGracefulAndIdempotent(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t)
	tr := dialFake(t, fs)

	if err := tr.Close(websocket.CloseNormalClosure, "client stop", time.Second); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := tr.Close(websocket.CloseNormalClosure, "again", time.Second); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	code, reason := tr.CloseStatus()
	if code != websocket.CloseNormalClosure || reason != "client stop" {
		t.Fatalf("unexpected close status %d %q", code, reason)
	}
	if err := tr.SendBinary([]byte("late")); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestTransportCloseForcesTeardownAfterGrace(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// never read, so the close frame is never answered
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	tr, err := NewDialer(zerolog.Nop()).Dial(context.Background(), domain.StreamEndpoint{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	start := time.Now()
	if err := tr.Close(websocket.CloseNormalClosure, "stop", 50*time.Millisecond); err != nil {
		t.Fatalf("forced close should not surface an error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close exceeded grace period: %s", elapsed)
	}
}

func TestTransportAbnormalDisconnectIsTransportError(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t)
	fs.onConnect = func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	}
	tr := dialFake(t, fs)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("transport did not notice disconnect")
	}
	if !errors.Is(tr.Err(), domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", tr.Err())
	}
}

func TestDialFailureIsConnectError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	_, err := NewDialer(zerolog.Nop()).Dial(context.Background(), domain.StreamEndpoint{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected handshake status in error, got %v", err)
	}
}

func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewDialer(zerolog.Nop()).Dial(context.Background(), domain.StreamEndpoint{})
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestSendControlEncodesConfigMessage(t *testing.T) {
	t.Parallel()

	payload, err := encodeControl(ConfigMessage{Config: StreamConfig{SampleRate: 16000, Lang: "fr"}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["config"]["lang"] != "fr" || decoded["config"]["sample_rate"] != float64(16000) {
		t.Fatalf("unexpected config payload: %s", payload)
	}
}
