package redact

import (
	"strings"
	"testing"
)

func TestTextDisabled(t *testing.T) {
	SetEnabled(false)
	in := "reach me at a@b.com or +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestTextMasksContactDetails(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("reach me at a@b.com or +62 812 3456 7890")
	if !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Fatalf("expected email masked, got %q", got)
	}
	if strings.Contains(got, "3456") {
		t.Fatalf("expected digits masked, got %q", got)
	}
}

func TestTextMasksSpokenDigits(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("my pin is four one five five thanks")
	if got != "my pin is [REDACTED_NUMBER] thanks" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	short := "I want two or three"
	if got := Text(short); got != short {
		t.Fatalf("expected short number words untouched, got %q", got)
	}
}

func TestTextKeepsPlainSpeech(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "the weather is nice today"
	if got := Text(in); got != in {
		t.Fatalf("expected plain text untouched, got %q", got)
	}
}
