package recognize

import (
	"errors"
	"testing"
)

func TestDecodeTranscript(t *testing.T) {
	msg, err := Decode(textFrame(`{"TRANSCRIPT":"hello world","IS_FINAL":true,"CONFIDENCE":0.75,"CHANNEL":"1"}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Transcript != "hello world" || !msg.IsFinal || msg.Confidence != 0.75 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if ch, ok := msg.Channel.Int(); !ok || ch != 1 {
		t.Fatalf("expected channel 1, got %q", msg.Channel)
	}
	results := msg.results()
	if len(results) != 1 || results[0].Value != "hello world" || results[0].Channel != "1" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestDecodeChannelForms(t *testing.T) {
	cases := map[string]Channel{
		`{"CHANNEL":0}`:      "0",
		`{"CHANNEL":"left"}`: "left",
		`{"CHANNEL":null}`:   "",
		`{}`:                 "",
	}
	for raw, want := range cases {
		msg, err := Decode(textFrame(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if msg.Channel != want {
			t.Fatalf("decode %s: expected %q, got %q", raw, want, msg.Channel)
		}
	}
	if _, ok := Channel("left").Int(); ok {
		t.Fatalf("expected non-numeric channel")
	}
}

func TestDecodeConnectedMarker(t *testing.T) {
	msg, err := Decode(textFrame(`{"type":"connected"}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Type != TypeConnected || msg.Transcript != "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDecodeRejectsBinaryAndNull(t *testing.T) {
	for _, f := range []Frame{
		{Type: FrameBinary, Data: []byte(`{"TRANSCRIPT":"x"}`)},
		textFrame(`null`),
		textFrame(`not json`),
	} {
		_, err := Decode(f)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ProtocolError for %s frame %q, got %v", f.Type, f.Data, err)
		}
	}
}

func TestDecodeMatchesKeysExactly(t *testing.T) {
	for _, raw := range []string{
		`{"transcript":"hi"}`,
		`{"Transcript":"hi","is_final":true}`,
		`{"TYPE":"connected"}`,
		`{"Error":"boom"}`,
	} {
		msg, err := Decode(textFrame(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if msg.Transcript != "" || msg.Type != "" || msg.Error != "" || msg.IsFinal {
			t.Fatalf("decode %s: expected nothing recognized, got %+v", raw, msg)
		}
	}
}

func TestDecodeToleratesFieldShapes(t *testing.T) {
	msg, err := Decode(textFrame(`{"TRANSCRIPT":"hi","CHANNEL":[0, 1]}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Transcript != "hi" || msg.Channel != "[0,1]" {
		t.Fatalf("unexpected message %+v", msg)
	}

	cases := map[string]bool{
		`{"TRANSCRIPT":"hi","IS_FINAL":1}`:     true,
		`{"TRANSCRIPT":"hi","IS_FINAL":"yes"}`: true,
		`{"TRANSCRIPT":"hi","IS_FINAL":0}`:     false,
		`{"TRANSCRIPT":"hi","IS_FINAL":""}`:    false,
		`{"TRANSCRIPT":"hi","IS_FINAL":null}`:  false,
	}
	for raw, want := range cases {
		msg, err := Decode(textFrame(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if msg.IsFinal != want {
			t.Fatalf("decode %s: expected final=%t, got %t", raw, want, msg.IsFinal)
		}
	}

	msg, err = Decode(textFrame(`{"TRANSCRIPT":"","error":false}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Transcript != "" || msg.Error != "" {
		t.Fatalf("expected falsy fields ignored, got %+v", msg)
	}
}
