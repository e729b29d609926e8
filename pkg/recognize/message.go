package recognize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// TypeConnected is the server's readiness marker.
const TypeConnected = "connected"

// Channel identifies the audio channel of a result. The service sends it as a
// number or a string; the literal text is kept either way. Decode keeps any
// other JSON value as its compact text.
type Channel string

func (c *Channel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Channel(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Channel(n.String())
	return nil
}

// Int returns the channel as an integer when it is numeric.
func (c Channel) Int() (int, bool) {
	n, err := strconv.Atoi(string(c))
	return n, err == nil
}

// Message is a decoded inbound frame.
type Message struct {
	Error      string  `json:"error,omitempty"`
	Type       string  `json:"type,omitempty"`
	Transcript string  `json:"TRANSCRIPT,omitempty"`
	IsFinal    bool    `json:"IS_FINAL,omitempty"`
	Confidence float64 `json:"CONFIDENCE,omitempty"`
	Channel    Channel `json:"CHANNEL,omitempty"`
}

// Result is one finalized transcript segment.
type Result struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Channel    Channel `json:"channel"`
}

// Decode parses a frame into a Message. Binary frames, unparsable text and a
// payload that decodes to nothing are all reported as *ProtocolError.
//
// Keys are matched exactly: "transcript" is not "TRANSCRIPT". Fields follow
// JSON truthiness, so a message is never rejected for the shape of a field
// it does carry: a non-scalar CHANNEL is kept as its JSON text and any truthy
// IS_FINAL marks the result final.
func Decode(f Frame) (*Message, error) {
	if f.Type != FrameText {
		return nil, &ProtocolError{Msg: "Unexpected binary data received from server", Raw: f.Data}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &fields); err != nil {
		return nil, &ProtocolError{Msg: "Invalid JSON received from service:", Raw: f.Data, Err: err}
	}
	if fields == nil {
		return nil, &ProtocolError{Msg: "Invalid JSON received from service:", Raw: f.Data, Err: errEmptyMessage}
	}
	msg := &Message{}
	if raw, ok := fields["error"]; ok && truthy(raw) {
		msg.Error = text(raw)
	}
	if raw, ok := fields["type"]; ok {
		var typ string
		if json.Unmarshal(raw, &typ) == nil {
			msg.Type = typ
		}
	}
	if raw, ok := fields["TRANSCRIPT"]; ok && truthy(raw) {
		msg.Transcript = text(raw)
	}
	if raw, ok := fields["IS_FINAL"]; ok {
		msg.IsFinal = truthy(raw)
	}
	if raw, ok := fields["CONFIDENCE"]; ok {
		var c float64
		if json.Unmarshal(raw, &c) == nil {
			msg.Confidence = c
		}
	}
	if raw, ok := fields["CHANNEL"]; ok {
		if err := msg.Channel.UnmarshalJSON(raw); err != nil {
			msg.Channel = Channel(compact(raw))
		}
	}
	return msg, nil
}

// truthy reports whether raw is a JSON value other than null, false, 0 or "".
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '[', '{':
		return true
	case '"':
		return len(raw) > 2
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	return err != nil || n != 0
}

// text renders raw as a string: JSON strings unquoted, anything else as
// compact JSON text.
func text(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return compact(raw)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

var errEmptyMessage = errors.New("empty message")

// results lists the finalized segments carried by msg. Today a final message
// carries exactly one; callers must not rely on that.
func (m *Message) results() []Result {
	return []Result{{Value: m.Transcript, Confidence: m.Confidence, Channel: m.Channel}}
}
