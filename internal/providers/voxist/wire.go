package voxist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"voxstream/internal/domain"
)

// EndOfStream is the control frame that tells the server no more audio follows.
type EndOfStream struct {
	EOF int `json:"eof"`
}

// EOFMessage is sent once when the audio source is exhausted or stopped.
var EOFMessage = EndOfStream{EOF: 1}

// ConfigMessage announces stream settings on token-authenticated sockets.
type ConfigMessage struct {
	Config StreamConfig `json:"config"`
}

type StreamConfig struct {
	SampleRate int    `json:"sample_rate"`
	Lang       string `json:"lang"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Text    *string         `json:"text"`
	Segment json.RawMessage `json:"segment"`
}

// decodeEvent parses one inbound text frame. ok is false for well-formed
// messages that carry no transcript (unknown types).
func decodeEvent(payload []byte) (event domain.TranscriptEvent, ok bool, err error) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.TranscriptEvent{}, false, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}

	segment, err := segmentToken(msg.Segment)
	if err != nil {
		return domain.TranscriptEvent{}, false, err
	}

	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "partial":
		event.Kind = domain.TranscriptKindPartial
	case "final":
		event.Kind = domain.TranscriptKindFinal
	case "":
		// legacy sockets send bare {"Text": "..."} lines
		if msg.Text == nil {
			return domain.TranscriptEvent{}, false, fmt.Errorf("%w: missing type and text", domain.ErrMalformedEvent)
		}
		event.Kind = domain.TranscriptKindFinal
	default:
		return domain.TranscriptEvent{}, false, nil
	}

	if msg.Text != nil {
		event.Text = *msg.Text
	}
	event.Segment = segment
	return event, true, nil
}

func segmentToken(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", fmt.Errorf("%w: segment: %w", domain.ErrMalformedEvent, err)
	}
	if compact.String() == "null" {
		return "", nil
	}
	return compact.String(), nil
}

func encodeControl(message any) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	default:
		return json.Marshal(message)
	}
}
